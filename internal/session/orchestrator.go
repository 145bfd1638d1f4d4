// Package session implements the streaming orchestrator: the single
// authority over one live conversation session. It accumulates recognized
// speech, schedules debounced fast and quality translations, maintains the
// frozen/active display window, and drives question-triggered answer
// generation.
//
// The orchestrator never blocks speech ingestion: every backend call runs in
// its own goroutine and folds its result back into the state under a single
// mutex. Results completing out of order are dropped when a later-issued
// result has already superseded them.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tolk-ai/tolk/internal/assist"
	"github.com/tolk-ai/tolk/internal/observe"
	"github.com/tolk-ai/tolk/internal/translate"
)

// Default timing and threshold values.
const (
	DefaultFastDebounce    = 100 * time.Millisecond
	DefaultInterimDebounce = 50 * time.Millisecond
	DefaultQualityPause    = 2 * time.Second
	DefaultAnswerPause     = 2500 * time.Millisecond

	// DefaultWordThreshold is how many untranslated words trigger the
	// quality path immediately, bypassing the pause timer.
	DefaultWordThreshold = 25

	// DefaultActiveWindow is the word count of the revisable suffix; text
	// before it freezes.
	DefaultActiveWindow = 50

	// DefaultAnswerConfidence is the minimum question confidence that arms
	// answer generation.
	DefaultAnswerConfidence = 70

	// fastContextWords is how many preceding words the fast path hands to
	// the context-aware translation variant.
	fastContextWords = 10
)

// FastTranslator is the low-latency translation path. Satisfied by
// [translate.Resolver].
type FastTranslator interface {
	Translate(ctx context.Context, text string, mode translate.Mode, onProgress translate.ProgressFunc) (translate.Result, error)
	TranslateWithContext(ctx context.Context, newWords, contextPrefix string) (translate.Result, error)
}

// CloudAssist is the quality translation and answer generation path.
// Satisfied by [assist.Assist].
type CloudAssist interface {
	QualityTranslate(ctx context.Context, text string, onPartial assist.PartialFunc) (assist.QualityResult, error)
	GenerateAnswer(ctx context.Context, conversation string, onPartial assist.PartialFunc) (assist.AnswerResult, error)
}

// Config tunes one Orchestrator. Zero fields take the defaults above.
type Config struct {
	SrcLang string
	TgtLang string

	FastDebounce    time.Duration
	InterimDebounce time.Duration
	QualityPause    time.Duration
	AnswerPause     time.Duration

	WordThreshold    int
	ActiveWindow     int
	AnswerConfidence int

	// Minimal disables answer generation; the session only translates.
	Minimal bool

	// Metrics receives per-stage latencies and counters. Nil disables
	// instrumentation.
	Metrics *observe.Metrics
}

func (c *Config) applyDefaults() {
	if c.FastDebounce <= 0 {
		c.FastDebounce = DefaultFastDebounce
	}
	if c.InterimDebounce <= 0 {
		c.InterimDebounce = DefaultInterimDebounce
	}
	if c.QualityPause <= 0 {
		c.QualityPause = DefaultQualityPause
	}
	if c.AnswerPause <= 0 {
		c.AnswerPause = DefaultAnswerPause
	}
	if c.WordThreshold <= 0 {
		c.WordThreshold = DefaultWordThreshold
	}
	if c.ActiveWindow <= 0 {
		c.ActiveWindow = DefaultActiveWindow
	}
	if c.AnswerConfidence <= 0 {
		c.AnswerConfidence = DefaultAnswerConfidence
	}
}

// AnswerState holds the (possibly partial) output of answer generation.
type AnswerState struct {
	LastAnsweredText  string
	InputTranslation  string
	Analysis          string
	Strategy          string
	Answer            string
	AnswerTranslation string
}

// Snapshot is a read-only view of the session for the presentation layer.
type Snapshot struct {
	OriginalText       string
	InterimText        string
	InterimTranslation string

	FastTranslation    string
	QualityTranslation string
	FrozenText         string
	FrozenWordCount    int

	IsListening          bool
	IsTranslatingFast    bool
	IsTranslatingQuality bool
	IsGeneratingAnswer   bool

	Intent assist.Intent
	Answer AnswerState

	// InfoNotes accumulates informational speech across the session; it
	// survives Stop and is cleared only by Reset.
	InfoNotes []string
}

// request identifies one issued translation call: the word range it covers
// and the accumulated translation text it extends.
type request struct {
	seq  uint64
	base string
	end  int // total original words at issue time
}

// stream is the per-tier translation state.
type stream struct {
	text      string
	watermark int // original words covered; never decreases in a session
	seq       uint64
}

// Orchestrator owns all session state. Safe for concurrent use.
type Orchestrator struct {
	cfg    Config
	fast   FastTranslator
	cloud  CloudAssist
	logger *slog.Logger

	fastDeb    *debouncer
	interimDeb *debouncer
	qualityDeb *debouncer
	answerDeb  *debouncer

	mu           sync.Mutex
	listening    bool
	originalText string
	totalWords   int

	interimText        string
	interimTranslation string
	interimSeq         uint64

	fastStream    stream
	qualityStream stream

	// fastPlaceholder shows the model-loading glyph after the fast
	// translation without ever folding it into the accumulated text.
	fastPlaceholder bool

	frozenText      string
	frozenWordCount int

	intent assist.Intent
	answer AnswerState

	inFlightFast    int
	inFlightQuality int
	generatingAns   bool
	answerArmed     bool

	fastCancel    context.CancelFunc
	qualityCancel context.CancelFunc
	answerCancel  context.CancelFunc

	infoNotes []string

	updates chan Snapshot
}

// New creates an Orchestrator. fast must not be nil; cloud may be nil, which
// disables the quality and answer paths entirely.
func New(cfg Config, fast FastTranslator, cloud CloudAssist, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		fast:       fast,
		cloud:      cloud,
		logger:     logger.With("component", "session"),
		fastDeb:    newDebouncer(cfg.FastDebounce),
		interimDeb: newDebouncer(cfg.InterimDebounce),
		qualityDeb: newDebouncer(cfg.QualityPause),
		answerDeb:  newDebouncer(cfg.AnswerPause),
		updates:    make(chan Snapshot, 1),
	}
}

// Updates returns a channel carrying the latest Snapshot after every state
// change. Only the most recent snapshot is retained; slow consumers see
// coalesced updates, never stale ones.
func (o *Orchestrator) Updates() <-chan Snapshot {
	return o.updates
}

// Snapshot returns the current session state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Start begins a session, clearing per-session state. Info notes persist
// across sessions until Reset.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.listening && o.cfg.Metrics != nil {
		o.cfg.Metrics.ActiveSessions.Add(context.Background(), 1)
	}
	o.clearSessionLocked()
	o.listening = true
	o.notifyLocked()
}

// IngestWords appends a finalized speech fragment and schedules translation
// triggers. Empty or whitespace-only input is rejected.
func (o *Orchestrator) IngestWords(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("session: empty speech fragment")
	}

	o.mu.Lock()
	if !o.listening {
		o.mu.Unlock()
		return fmt.Errorf("session: not listening")
	}
	if o.originalText == "" {
		o.originalText = text
	} else {
		o.originalText += " " + text
	}
	o.totalWords = len(strings.Fields(o.originalText))

	pending := o.totalWords - o.qualityStream.watermark
	answerArmed := o.answerArmed
	o.notifyLocked()
	o.mu.Unlock()

	o.fastDeb.Arm(func() { o.runFast() })

	if o.cloud != nil {
		if pending >= o.cfg.WordThreshold {
			o.qualityDeb.Cancel()
			go o.runQuality()
		} else {
			o.qualityDeb.Arm(func() { o.runQuality() })
		}
	}

	// New words restart a pending answer timer: the question may still be
	// growing.
	if answerArmed {
		o.answerDeb.Arm(func() { o.runAnswer() })
	}
	return nil
}

// SetInterim replaces the live-updating interim fragment. Interim text is
// display-only and never folded into the accumulated original.
func (o *Orchestrator) SetInterim(text string) {
	o.mu.Lock()
	if !o.listening {
		o.mu.Unlock()
		return
	}
	if text != o.interimText {
		// The previous translation belongs to replaced interim text.
		o.interimTranslation = ""
	}
	o.interimText = text
	o.notifyLocked()
	o.mu.Unlock()

	if o.cfg.SrcLang != o.cfg.TgtLang && strings.TrimSpace(text) != "" {
		o.interimDeb.Arm(func() { o.runInterim() })
	}
}

// ForceQualityNow cancels any pending quality pause timer and runs the
// quality path immediately.
func (o *Orchestrator) ForceQualityNow() {
	if o.cloud == nil {
		return
	}
	o.qualityDeb.Cancel()
	go o.runQuality()
}

// Stop ends the session. Pending debounced triggers and the in-flight fast
// call are cancelled; interim fields are cleared. If the quality tier is
// behind the accumulated text, one final synchronous quality call runs
// before Stop returns. If an unanswered question was detected, answer
// generation is fired and allowed to outlive the stop.
func (o *Orchestrator) Stop() {
	o.fastDeb.Cancel()
	o.interimDeb.Cancel()
	o.qualityDeb.Cancel()
	o.answerDeb.Cancel()

	o.mu.Lock()
	if o.fastCancel != nil {
		o.fastCancel()
		o.fastCancel = nil
	}
	o.interimText = ""
	o.interimTranslation = ""
	if o.listening && o.cfg.Metrics != nil {
		o.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
	o.listening = false
	o.answerArmed = false
	behind := o.cloud != nil && o.totalWords > 0 && o.qualityStream.watermark < o.totalWords
	o.notifyLocked()
	o.mu.Unlock()

	if behind {
		o.runQuality()
	}

	o.mu.Lock()
	needAnswer := o.cloud != nil && !o.cfg.Minimal &&
		o.intent.ContainsQuestion &&
		o.intent.QuestionConfidence >= o.cfg.AnswerConfidence &&
		o.originalText != "" &&
		o.originalText != o.answer.LastAnsweredText
	o.mu.Unlock()

	if needAnswer {
		go o.runAnswer()
	}
}

// Reset cancels everything Stop cancels plus in-flight answer generation,
// and clears all state including cross-session accumulators.
func (o *Orchestrator) Reset() {
	o.fastDeb.Cancel()
	o.interimDeb.Cancel()
	o.qualityDeb.Cancel()
	o.answerDeb.Cancel()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.listening && o.cfg.Metrics != nil {
		o.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
	o.clearSessionLocked()
	o.infoNotes = nil
	o.listening = false
	o.notifyLocked()
}

// clearSessionLocked resets per-session state. Info notes are preserved;
// Reset clears them separately.
func (o *Orchestrator) clearSessionLocked() {
	if o.fastCancel != nil {
		o.fastCancel()
		o.fastCancel = nil
	}
	if o.qualityCancel != nil {
		o.qualityCancel()
		o.qualityCancel = nil
	}
	if o.answerCancel != nil {
		o.answerCancel()
		o.answerCancel = nil
	}
	o.originalText = ""
	o.totalWords = 0
	o.interimText = ""
	o.interimTranslation = ""
	o.fastStream = stream{}
	o.qualityStream = stream{}
	o.fastPlaceholder = false
	o.frozenText = ""
	o.frozenWordCount = 0
	o.intent = assist.Intent{}
	o.answer = AnswerState{}
	o.generatingAns = false
	o.answerArmed = false
}

// runFast translates the words the fast tier has not covered yet.
func (o *Orchestrator) runFast() {
	o.mu.Lock()
	end := o.totalWords
	start := o.fastStream.watermark
	if end <= start {
		o.mu.Unlock()
		return
	}
	words := strings.Fields(o.originalText)
	newWords := strings.Join(words[start:end], " ")
	prefix := ""
	if start > 0 {
		from := max(0, start-fastContextWords)
		prefix = strings.Join(words[from:start], " ")
	}
	req := request{base: o.fastStream.text, end: end}

	if o.fastCancel != nil {
		o.fastCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.fastCancel = cancel
	o.fastStream.seq++
	req.seq = o.fastStream.seq
	o.inFlightFast++
	o.notifyLocked()
	o.mu.Unlock()

	started := time.Now()
	var (
		res translate.Result
		err error
	)
	if start == 0 {
		res, err = o.fast.Translate(ctx, newWords, translate.ChunkedProgressive, func(partial string) {
			o.mu.Lock()
			if req.seq == o.fastStream.seq && req.end > o.fastStream.watermark {
				o.fastStream.text = joinSpaced(req.base, partial)
				o.fastPlaceholder = false
				o.notifyLocked()
			}
			o.mu.Unlock()
		})
	} else {
		res, err = o.fast.TranslateWithContext(ctx, newWords, prefix)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlightFast--

	if err != nil {
		if ctx.Err() != nil {
			return // cancelled, expected
		}
		o.logger.Warn("fast translation failed", "error", err)
		o.notifyLocked()
		return
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.FastDuration.Record(context.Background(), time.Since(started).Seconds())
	}
	if req.end <= o.fastStream.watermark {
		return // superseded by a later completed result
	}

	if res.Placeholder {
		// The model is still loading: surface the glyph display-only and
		// keep the words uncovered, so the next trigger retries them and
		// the real translation lands in their place.
		o.fastPlaceholder = true
		o.notifyLocked()
		return
	}
	o.fastPlaceholder = false
	o.fastStream.text = joinSpaced(req.base, res.Text)
	o.fastStream.watermark = req.end
	o.notifyLocked()
}

// runInterim translates the interim fragment, best-effort. Failures are
// swallowed; a stale result for replaced interim text is dropped.
func (o *Orchestrator) runInterim() {
	o.mu.Lock()
	text := o.interimText
	if strings.TrimSpace(text) == "" {
		o.mu.Unlock()
		return
	}
	o.interimSeq++
	seq := o.interimSeq
	o.mu.Unlock()

	res, err := o.fast.Translate(context.Background(), text, translate.WholePhrase, nil)
	if err != nil {
		o.logger.Debug("interim translation failed", "error", err)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if seq == o.interimSeq && o.interimText == text {
		o.interimTranslation = res.Text
		o.notifyLocked()
	}
}

// runQuality translates the entire accumulated text through the cloud path
// and folds in the resulting intent classification. Blocking; callers decide
// whether to spawn a goroutine.
func (o *Orchestrator) runQuality() {
	o.mu.Lock()
	text := o.originalText
	end := o.totalWords
	if text == "" || end <= o.qualityStream.watermark {
		o.mu.Unlock()
		return
	}
	if o.qualityCancel != nil {
		// At most one in-flight quality call: the newer request wins.
		o.qualityCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.qualityCancel = cancel
	o.qualityStream.seq++
	seq := o.qualityStream.seq
	o.inFlightQuality++
	o.notifyLocked()
	o.mu.Unlock()

	started := time.Now()
	res, err := o.cloud.QualityTranslate(ctx, text, func(s assist.Sections) {
		if s.Translation == "" {
			return
		}
		o.mu.Lock()
		if seq == o.qualityStream.seq && end > o.qualityStream.watermark {
			o.qualityStream.text = s.Translation
			o.notifyLocked()
		}
		o.mu.Unlock()
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlightQuality--

	if err != nil {
		if ctx.Err() != nil {
			return // cancelled, expected
		}
		o.logger.Warn("quality translation failed", "error", err)
		o.notifyLocked()
		return
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.QualityDuration.Record(context.Background(), time.Since(started).Seconds())
		if res.Intent.ContainsQuestion {
			o.cfg.Metrics.QuestionsDetected.Add(context.Background(), 1)
		}
	}
	if end <= o.qualityStream.watermark {
		return // superseded
	}

	o.qualityStream.text = res.Translation
	o.qualityStream.watermark = end
	o.intent = res.Intent
	o.updateFrozenLocked()

	if res.Intent.SpeechType == assist.SpeechInfo && res.Translation != "" {
		o.appendInfoNoteLocked(res.Translation)
	}

	if !o.cfg.Minimal && o.listening &&
		res.Intent.ContainsQuestion &&
		res.Intent.QuestionConfidence >= o.cfg.AnswerConfidence {
		o.answerArmed = true
		o.answerDeb.Arm(func() { o.runAnswer() })
	}

	o.notifyLocked()
}

// runAnswer generates a suggested answer over the whole accumulated text.
// Idempotent: a second run on unchanged text is a no-op.
func (o *Orchestrator) runAnswer() {
	o.mu.Lock()
	text := o.originalText
	if text == "" || text == o.answer.LastAnsweredText {
		o.mu.Unlock()
		return
	}
	if o.answerCancel != nil {
		// Starting a new generation aborts any prior in-flight one.
		o.answerCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.answerCancel = cancel
	o.answerArmed = false
	o.generatingAns = true
	o.notifyLocked()
	o.mu.Unlock()

	started := time.Now()
	res, err := o.cloud.GenerateAnswer(ctx, text, func(s assist.Sections) {
		o.mu.Lock()
		if ctx.Err() == nil {
			o.answer.InputTranslation = s.InputTranslation
			o.answer.Analysis = s.Analysis
			o.answer.Strategy = s.Strategy
			o.answer.Answer = s.Answer
			o.answer.AnswerTranslation = s.Translation
			o.notifyLocked()
		}
		o.mu.Unlock()
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	o.generatingAns = false

	if err != nil {
		if ctx.Err() != nil {
			return // cancelled, expected
		}
		o.logger.Warn("answer generation failed", "error", err)
		o.notifyLocked()
		return
	}

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.AnswerDuration.Record(context.Background(), time.Since(started).Seconds())
		o.cfg.Metrics.AnswersGenerated.Add(context.Background(), 1)
	}
	o.answer.InputTranslation = res.InputTranslation
	o.answer.Analysis = res.Analysis
	o.answer.Strategy = res.Strategy
	o.answer.Answer = res.Answer
	o.answer.AnswerTranslation = res.AnswerTranslation
	o.answer.LastAnsweredText = text
	o.notifyLocked()
}

// updateFrozenLocked recomputes the frozen window after a quality result.
// The frozen text only ever grows; a shorter retranslation of the same span
// never un-commits words already shown as stable.
func (o *Orchestrator) updateFrozenLocked() {
	freezeWords := max(0, o.totalWords-o.cfg.ActiveWindow)
	transWords := strings.Fields(o.qualityStream.text)
	freezeTransCount := max(0, len(transWords)-o.cfg.ActiveWindow)

	candidate := strings.Join(transWords[:freezeTransCount], " ")
	if len(candidate) > len(o.frozenText) {
		o.frozenText = candidate
		if freezeWords > o.frozenWordCount {
			o.frozenWordCount = freezeWords
		}
	}
}

// appendInfoNoteLocked appends to the persistent info side-channel, skipping
// an immediate duplicate.
func (o *Orchestrator) appendInfoNoteLocked(note string) {
	if n := len(o.infoNotes); n > 0 && o.infoNotes[n-1] == note {
		return
	}
	o.infoNotes = append(o.infoNotes, note)
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	notes := make([]string, len(o.infoNotes))
	copy(notes, o.infoNotes)
	fastText := o.fastStream.text
	if o.fastPlaceholder {
		fastText = joinSpaced(fastText, translate.LoadingPlaceholder)
	}
	return Snapshot{
		OriginalText:         o.originalText,
		InterimText:          o.interimText,
		InterimTranslation:   o.interimTranslation,
		FastTranslation:      fastText,
		QualityTranslation:   o.qualityStream.text,
		FrozenText:           o.frozenText,
		FrozenWordCount:      o.frozenWordCount,
		IsListening:          o.listening,
		IsTranslatingFast:    o.inFlightFast > 0,
		IsTranslatingQuality: o.inFlightQuality > 0,
		IsGeneratingAnswer:   o.generatingAns,
		Intent:               o.intent,
		Answer:               o.answer,
		InfoNotes:            notes,
	}
}

// notifyLocked publishes the current snapshot, replacing any unconsumed one.
func (o *Orchestrator) notifyLocked() {
	snap := o.snapshotLocked()
	for {
		select {
		case o.updates <- snap:
			return
		default:
		}
		select {
		case <-o.updates:
		default:
		}
	}
}

func joinSpaced(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
