// Package mock provides a configurable in-memory [mt.Backend] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/tolk-ai/tolk/pkg/provider/mt"
)

// Backend is a test double for [mt.Backend].
//
// The zero value is ready, supports every language pair, and echoes input
// prefixed with "mock:". Set TranslateFn for custom behaviour.
type Backend struct {
	// TranslateFn, when non-nil, handles Translate calls.
	TranslateFn func(ctx context.Context, text, srcLang, tgtLang string) (string, error)

	// NotReady makes Ready report false.
	NotReady bool

	// Pairs restricts CanTranslate to the listed "src:tgt" pairs.
	// Empty means every pair is supported.
	Pairs []string

	mu    sync.Mutex
	calls []string
}

var _ mt.Backend = (*Backend)(nil)

// Translate implements [mt.Backend], recording the call.
func (b *Backend) Translate(ctx context.Context, text, srcLang, tgtLang string) (string, error) {
	b.mu.Lock()
	b.calls = append(b.calls, text)
	b.mu.Unlock()

	if b.TranslateFn != nil {
		return b.TranslateFn(ctx, text, srcLang, tgtLang)
	}
	return "mock:" + text, nil
}

// Ready implements [mt.Backend].
func (b *Backend) Ready(ctx context.Context) bool { return !b.NotReady }

// CanTranslate implements [mt.Backend].
func (b *Backend) CanTranslate(srcLang, tgtLang string) bool {
	if len(b.Pairs) == 0 {
		return true
	}
	want := srcLang + ":" + tgtLang
	for _, p := range b.Pairs {
		if p == want {
			return true
		}
	}
	return false
}

// Calls returns every text passed to Translate, in order.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallCount returns how many Translate calls were made.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}
