package pivot

import (
	"context"
	"errors"
	"testing"

	"github.com/tolk-ai/tolk/pkg/provider/mt/mock"
)

func newTestTranslator(first, second *mock.Backend) *Translator {
	return New(first, second, "nb", "en", "ru", nil)
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	first := &mock.Backend{TranslateFn: func(_ context.Context, text, src, tgt string) (string, error) {
		if src != "nb" || tgt != "en" {
			t.Errorf("first stage got %s→%s", src, tgt)
		}
		return "en:" + text, nil
	}}
	second := &mock.Backend{TranslateFn: func(_ context.Context, text, src, tgt string) (string, error) {
		if src != "en" || tgt != "ru" {
			t.Errorf("second stage got %s→%s", src, tgt)
		}
		return "ru:" + text, nil
	}}

	tr := newTestTranslator(first, second)
	res, err := tr.Translate(context.Background(), "hei")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IntermediateText != "en:hei" {
		t.Errorf("intermediate = %q", res.IntermediateText)
	}
	if res.TargetText != "ru:en:hei" {
		t.Errorf("target = %q", res.TargetText)
	}
	if res.Method != "pivot" {
		t.Errorf("method = %q", res.Method)
	}
}

func TestIntermediateCache(t *testing.T) {
	t.Parallel()

	first := &mock.Backend{}
	second := &mock.Backend{}
	tr := newTestTranslator(first, second)

	for range 3 {
		if _, err := tr.Translate(context.Background(), "samme tekst"); err != nil {
			t.Fatalf("translate: %v", err)
		}
	}

	if got := first.CallCount(); got != 1 {
		t.Errorf("first stage called %d times, want 1 (cached)", got)
	}
	if got := second.CallCount(); got != 3 {
		t.Errorf("second stage called %d times, want 3", got)
	}
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		firstReady    bool
		secondReady   bool
		wantReady     bool
		wantPartially bool
	}{
		{"both ready", true, true, true, true},
		{"first only", true, false, false, true},
		{"second only", false, true, false, true},
		{"neither", false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := newTestTranslator(
				&mock.Backend{NotReady: !tt.firstReady},
				&mock.Backend{NotReady: !tt.secondReady},
			)
			if got := tr.Ready(context.Background()); got != tt.wantReady {
				t.Errorf("Ready() = %v, want %v", got, tt.wantReady)
			}
			if got := tr.PartiallyReady(context.Background()); got != tt.wantPartially {
				t.Errorf("PartiallyReady() = %v, want %v", got, tt.wantPartially)
			}
		})
	}
}

func TestTranslateWithFallbackUsesPivot(t *testing.T) {
	t.Parallel()

	tr := newTestTranslator(&mock.Backend{}, &mock.Backend{})
	res, err := tr.TranslateWithFallback(context.Background(), "hei", func(context.Context) (string, error) {
		t.Fatal("direct path must not run when pivot succeeds")
		return "", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Method != "pivot" {
		t.Errorf("method = %q, want pivot", res.Method)
	}
}

func TestTranslateWithFallbackOnStageFailure(t *testing.T) {
	t.Parallel()

	second := &mock.Backend{TranslateFn: func(context.Context, string, string, string) (string, error) {
		return "", errors.New("stage down")
	}}
	tr := newTestTranslator(&mock.Backend{}, second)

	res, err := tr.TranslateWithFallback(context.Background(), "hei", func(context.Context) (string, error) {
		return "прямой перевод", nil
	})
	if err != nil {
		t.Fatalf("fallback must absorb the stage failure: %v", err)
	}
	if res.Method != "direct" {
		t.Errorf("method = %q, want direct", res.Method)
	}
	if res.TargetText != "прямой перевод" {
		t.Errorf("target = %q", res.TargetText)
	}
}

func TestTranslateWithFallbackWhenNotReady(t *testing.T) {
	t.Parallel()

	first := &mock.Backend{NotReady: true}
	tr := newTestTranslator(first, &mock.Backend{})

	res, err := tr.TranslateWithFallback(context.Background(), "hei", func(context.Context) (string, error) {
		return "прямой", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Method != "direct" {
		t.Errorf("method = %q, want direct", res.Method)
	}
	if first.CallCount() != 0 {
		t.Error("pivot stage must not be called when not ready")
	}
}

func TestTranslateWithFallbackPropagatesCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	second := &mock.Backend{TranslateFn: func(ctx context.Context, _, _, _ string) (string, error) {
		cancel()
		return "", ctx.Err()
	}}
	tr := newTestTranslator(&mock.Backend{}, second)

	_, err := tr.TranslateWithFallback(ctx, "hei", func(context.Context) (string, error) {
		t.Fatal("direct path must not run after cancellation")
		return "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
