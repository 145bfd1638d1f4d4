package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tolk-ai/tolk/internal/observe"
	"github.com/tolk-ai/tolk/internal/session"
)

type ctrlStub struct {
	mu        sync.Mutex
	starts    int
	stops     int
	resets    int
	forced    int
	words     []string
	interims  []string
	ingestErr error

	snap    session.Snapshot
	updates chan session.Snapshot
}

func newCtrlStub() *ctrlStub {
	return &ctrlStub{updates: make(chan session.Snapshot, 4)}
}

func (c *ctrlStub) Start() { c.mu.Lock(); c.starts++; c.mu.Unlock() }
func (c *ctrlStub) Stop()  { c.mu.Lock(); c.stops++; c.mu.Unlock() }
func (c *ctrlStub) Reset() { c.mu.Lock(); c.resets++; c.mu.Unlock() }

func (c *ctrlStub) ForceQualityNow() { c.mu.Lock(); c.forced++; c.mu.Unlock() }

func (c *ctrlStub) IngestWords(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ingestErr != nil {
		return c.ingestErr
	}
	c.words = append(c.words, text)
	return nil
}

func (c *ctrlStub) SetInterim(text string) {
	c.mu.Lock()
	c.interims = append(c.interims, text)
	c.mu.Unlock()
}

func (c *ctrlStub) Snapshot() session.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *ctrlStub) Updates() <-chan session.Snapshot { return c.updates }

func startGateway(t *testing.T, ctrl SessionController) string {
	t.Helper()
	srv := NewServer(ctrl, slog.New(slog.DiscardHandler), nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Run(ctx)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	return msg
}

func writeCmd(t *testing.T, conn *websocket.Conn, cmd command) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write command: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestServeHTTP_SendsInitialSnapshot(t *testing.T) {
	ctrl := newCtrlStub()
	ctrl.snap.OriginalText = "god morgen"
	ctrl.snap.FastTranslation = "доброе утро"
	ctrl.snap.IsListening = true

	conn := dial(t, startGateway(t, ctrl))

	msg := readMsg(t, conn)
	if msg["type"] != "snapshot" {
		t.Fatalf("type = %v, want snapshot", msg["type"])
	}
	if msg["original_text"] != "god morgen" {
		t.Errorf("original_text = %v", msg["original_text"])
	}
	if msg["fast_translation"] != "доброе утро" {
		t.Errorf("fast_translation = %v", msg["fast_translation"])
	}
	if msg["is_listening"] != true {
		t.Error("is_listening not set")
	}
}

func TestServeHTTP_DispatchesCommands(t *testing.T) {
	ctrl := newCtrlStub()
	conn := dial(t, startGateway(t, ctrl))
	readMsg(t, conn) // initial snapshot

	writeCmd(t, conn, command{Type: "start"})
	writeCmd(t, conn, command{Type: "words", Text: "hvordan går det"})
	writeCmd(t, conn, command{Type: "interim", Text: "med deg"})
	writeCmd(t, conn, command{Type: "force_quality"})
	writeCmd(t, conn, command{Type: "stop"})
	writeCmd(t, conn, command{Type: "reset"})

	waitFor(t, func() bool {
		ctrl.mu.Lock()
		defer ctrl.mu.Unlock()
		return ctrl.starts == 1 && ctrl.stops == 1 && ctrl.resets == 1 &&
			ctrl.forced == 1 && len(ctrl.words) == 1 && len(ctrl.interims) == 1
	}, "not all commands were dispatched")

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.words[0] != "hvordan går det" {
		t.Errorf("words = %q", ctrl.words[0])
	}
	if ctrl.interims[0] != "med deg" {
		t.Errorf("interim = %q", ctrl.interims[0])
	}
}

func TestServeHTTP_IngestErrorReportedToClient(t *testing.T) {
	ctrl := newCtrlStub()
	ctrl.ingestErr = errors.New("session: not listening")

	conn := dial(t, startGateway(t, ctrl))
	readMsg(t, conn)

	writeCmd(t, conn, command{Type: "words", Text: "hei"})

	msg := readMsg(t, conn)
	if msg["type"] != "error" {
		t.Fatalf("type = %v, want error", msg["type"])
	}
	if got, _ := msg["error"].(string); !strings.Contains(got, "not listening") {
		t.Errorf("error = %q", got)
	}
}

func TestServeHTTP_UnknownCommandRejected(t *testing.T) {
	ctrl := newCtrlStub()
	conn := dial(t, startGateway(t, ctrl))
	readMsg(t, conn)

	writeCmd(t, conn, command{Type: "dance"})

	msg := readMsg(t, conn)
	if msg["type"] != "error" {
		t.Fatalf("type = %v, want error", msg["type"])
	}
	if got, _ := msg["error"].(string); !strings.Contains(got, "dance") {
		t.Errorf("error = %q", got)
	}
}

func TestServeHTTP_MalformedJSONRejected(t *testing.T) {
	ctrl := newCtrlStub()
	conn := dial(t, startGateway(t, ctrl))
	readMsg(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readMsg(t, conn)
	if msg["type"] != "error" {
		t.Fatalf("type = %v, want error", msg["type"])
	}

	// The connection survives a bad message.
	writeCmd(t, conn, command{Type: "start"})
	waitFor(t, func() bool {
		ctrl.mu.Lock()
		defer ctrl.mu.Unlock()
		return ctrl.starts == 1
	}, "connection did not survive malformed message")
}

func TestRun_BroadcastsUpdatesToAllClients(t *testing.T) {
	ctrl := newCtrlStub()
	wsURL := startGateway(t, ctrl)

	connA := dial(t, wsURL)
	connB := dial(t, wsURL)
	readMsg(t, connA)
	readMsg(t, connB)

	snap := session.Snapshot{
		OriginalText:    "er sveisen godkjent",
		FastTranslation: "сварка одобрена",
	}
	snap.Intent.ContainsQuestion = true
	snap.Intent.QuestionConfidence = 85
	ctrl.updates <- snap

	for _, conn := range []*websocket.Conn{connA, connB} {
		msg := readMsg(t, conn)
		if msg["type"] != "snapshot" {
			t.Fatalf("type = %v, want snapshot", msg["type"])
		}
		if msg["original_text"] != "er sveisen godkjent" {
			t.Errorf("original_text = %v", msg["original_text"])
		}
		if msg["contains_question"] != true {
			t.Error("contains_question not set")
		}
		if msg["question_confidence"] != float64(85) {
			t.Errorf("question_confidence = %v", msg["question_confidence"])
		}
	}
}

func TestSnapshotWire_IncludesAnswerAndNotes(t *testing.T) {
	ctrl := newCtrlStub()
	ctrl.snap.OriginalText = "kan du bekrefte leveransen"
	ctrl.snap.InfoNotes = []string{"поставка в четверг"}
	ctrl.snap.Answer.Answer = "Ja, den er bekreftet"
	ctrl.snap.Answer.AnswerTranslation = "да, подтверждаю"

	conn := dial(t, startGateway(t, ctrl))

	msg := readMsg(t, conn)
	answer, ok := msg["answer"].(map[string]any)
	if !ok {
		t.Fatalf("answer = %v", msg["answer"])
	}
	if answer["answer"] != "Ja, den er bekreftet" {
		t.Errorf("answer = %v", answer["answer"])
	}
	if answer["answer_translation"] != "да, подтверждаю" {
		t.Errorf("answer_translation = %v", answer["answer_translation"])
	}
	notes, ok := msg["info_notes"].([]any)
	if !ok || len(notes) != 1 || notes[0] != "поставка в четверг" {
		t.Errorf("info_notes = %v", msg["info_notes"])
	}
}

func TestServeHTTP_TracksConnectedClients(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctrl := newCtrlStub()
	srv := NewServer(ctrl, slog.New(slog.DiscardHandler), m)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Run(ctx)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn := dial(t, url)
	readMsg(t, conn) // initial snapshot confirms the connection is up

	waitFor(t, func() bool {
		return connectedClients(t, reader) == 1
	}, "connected-clients gauge never reached 1")

	conn.Close(websocket.StatusNormalClosure, "done")
	waitFor(t, func() bool {
		return connectedClients(t, reader) == 0
	}, "connected-clients gauge never returned to 0")
}

// connectedClients reads the current value of the connected-clients gauge.
func connectedClients(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "tolk.connected_clients" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				return 0
			}
			return sum.DataPoints[0].Value
		}
	}
	return 0
}
