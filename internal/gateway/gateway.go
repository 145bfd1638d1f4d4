// Package gateway is the WebSocket boundary between speech sources,
// presentation clients, and the session pipeline.
//
// A speech source pushes finalized and interim text over the socket;
// every session state change is broadcast back to all connected clients as a
// JSON snapshot. The core pipeline never imports this package; the gateway
// drives it through a narrow controller interface.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/tolk-ai/tolk/internal/observe"
	"github.com/tolk-ai/tolk/internal/session"
)

// SessionController is the slice of the session pipeline the gateway drives.
// Satisfied by [session.Orchestrator].
type SessionController interface {
	Start()
	Stop()
	Reset()
	IngestWords(text string) error
	SetInterim(text string)
	ForceQualityNow()
	Snapshot() session.Snapshot
	Updates() <-chan session.Snapshot
}

// command is the inbound wire message.
type command struct {
	// Type is one of: start, stop, reset, words, interim, force_quality.
	Type string `json:"type"`

	// Text carries the payload for words and interim commands.
	Text string `json:"text,omitempty"`
}

// answerMsg mirrors the answer fields of a snapshot on the wire.
type answerMsg struct {
	InputTranslation  string `json:"input_translation,omitempty"`
	Analysis          string `json:"analysis,omitempty"`
	Strategy          string `json:"strategy,omitempty"`
	Answer            string `json:"answer,omitempty"`
	AnswerTranslation string `json:"answer_translation,omitempty"`
}

// snapshotMsg is the outbound wire representation of a session snapshot.
type snapshotMsg struct {
	Type string `json:"type"`

	OriginalText       string `json:"original_text"`
	InterimText        string `json:"interim_text,omitempty"`
	InterimTranslation string `json:"interim_translation,omitempty"`

	FastTranslation    string `json:"fast_translation"`
	QualityTranslation string `json:"quality_translation"`
	FrozenText         string `json:"frozen_text"`
	FrozenWordCount    int    `json:"frozen_word_count"`

	IsListening          bool `json:"is_listening"`
	IsTranslatingFast    bool `json:"is_translating_fast"`
	IsTranslatingQuality bool `json:"is_translating_quality"`
	IsGeneratingAnswer   bool `json:"is_generating_answer"`

	SpeechType         string `json:"speech_type,omitempty"`
	ContainsQuestion   bool   `json:"contains_question"`
	QuestionConfidence int    `json:"question_confidence"`

	Answer    answerMsg `json:"answer"`
	InfoNotes []string  `json:"info_notes,omitempty"`
}

// errorMsg is the outbound wire message for a rejected command.
type errorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func toWire(s session.Snapshot) snapshotMsg {
	return snapshotMsg{
		Type:                 "snapshot",
		OriginalText:         s.OriginalText,
		InterimText:          s.InterimText,
		InterimTranslation:   s.InterimTranslation,
		FastTranslation:      s.FastTranslation,
		QualityTranslation:   s.QualityTranslation,
		FrozenText:           s.FrozenText,
		FrozenWordCount:      s.FrozenWordCount,
		IsListening:          s.IsListening,
		IsTranslatingFast:    s.IsTranslatingFast,
		IsTranslatingQuality: s.IsTranslatingQuality,
		IsGeneratingAnswer:   s.IsGeneratingAnswer,
		SpeechType:           string(s.Intent.SpeechType),
		ContainsQuestion:     s.Intent.ContainsQuestion,
		QuestionConfidence:   s.Intent.QuestionConfidence,
		Answer: answerMsg{
			InputTranslation:  s.Answer.InputTranslation,
			Analysis:          s.Answer.Analysis,
			Strategy:          s.Answer.Strategy,
			Answer:            s.Answer.Answer,
			AnswerTranslation: s.Answer.AnswerTranslation,
		},
		InfoNotes: s.InfoNotes,
	}
}

// Server fans session snapshots out to every connected WebSocket client and
// dispatches inbound commands to the controller. Implements [http.Handler].
type Server struct {
	ctrl    SessionController
	logger  *slog.Logger
	metrics *observe.Metrics // nil disables instrumentation

	mu   sync.Mutex
	subs map[chan snapshotMsg]struct{}
}

// NewServer creates a gateway server around ctrl. metrics may be nil.
func NewServer(ctrl SessionController, logger *slog.Logger, metrics *observe.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ctrl:    ctrl,
		logger:  logger.With("component", "gateway"),
		metrics: metrics,
		subs:    make(map[chan snapshotMsg]struct{}),
	}
}

// Run pumps session updates to all subscribers until ctx is cancelled.
// Call it in its own goroutine alongside the HTTP server.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-s.ctrl.Updates():
			s.broadcast(toWire(snap))
		}
	}
}

// ServeHTTP upgrades the connection and serves it until the client leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection teardown")

	ctx := r.Context()
	sub := s.subscribe()
	defer s.unsubscribe(sub)

	if s.metrics != nil {
		s.metrics.ConnectedClients.Add(context.Background(), 1)
		defer s.metrics.ConnectedClients.Add(context.Background(), -1)
	}

	s.logger.Debug("client connected", "remote", r.RemoteAddr)

	// The client always starts from the current state.
	if err := s.send(ctx, conn, toWire(s.ctrl.Snapshot())); err != nil {
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-sub:
				if err := s.send(ctx, conn, msg); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.logger.Debug("client disconnected", "remote", r.RemoteAddr)
			} else if ctx.Err() == nil {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		s.handleCommand(ctx, conn, data)
	}
}

// handleCommand dispatches one inbound message. Invalid commands produce an
// error message on the socket, never a dropped connection.
func (s *Server) handleCommand(ctx context.Context, conn *websocket.Conn, data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.sendError(ctx, conn, fmt.Sprintf("invalid message: %v", err))
		return
	}

	switch cmd.Type {
	case "start":
		s.ctrl.Start()
	case "stop":
		s.ctrl.Stop()
	case "reset":
		s.ctrl.Reset()
	case "words":
		if err := s.ctrl.IngestWords(cmd.Text); err != nil {
			s.sendError(ctx, conn, err.Error())
		}
	case "interim":
		s.ctrl.SetInterim(cmd.Text)
	case "force_quality":
		s.ctrl.ForceQualityNow()
	default:
		s.sendError(ctx, conn, fmt.Sprintf("unknown message type %q", cmd.Type))
	}
}

func (s *Server) subscribe() chan snapshotMsg {
	sub := make(chan snapshotMsg, 1)
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

func (s *Server) unsubscribe(sub chan snapshotMsg) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// broadcast coalesces per subscriber: a slow client skips straight to the
// newest snapshot instead of queueing stale ones.
func (s *Server) broadcast(msg snapshotMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub <- msg:
			continue
		default:
		}
		select {
		case <-sub:
		default:
		}
		select {
		case sub <- msg:
		default:
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gateway: marshal message: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, msg string) {
	if err := s.send(ctx, conn, errorMsg{Type: "error", Error: msg}); err != nil {
		s.logger.Debug("failed to send error message", "error", err)
	}
}
