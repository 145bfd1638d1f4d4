// Package mt defines the Backend interface for machine-translation engines.
//
// A backend wraps one translation engine — a local translation service, a
// two-stage pivot, or an on-device model — and exposes a uniform surface so
// the resolver can cascade across them without coupling to any engine's API.
//
// Implementations must be safe for concurrent use.
package mt

import (
	"context"
	"errors"
)

// ErrNotReady is returned by a backend whose engine is not yet initialised
// (model still downloading, service not reachable). The caller should fall
// through to the next backend.
var ErrNotReady = errors.New("translation backend not ready")

// ErrUnsupportedPair is returned when a backend cannot translate between the
// requested languages. Checked before any network I/O.
var ErrUnsupportedPair = errors.New("unsupported language pair")

// ErrModelLoading is returned while an on-device model is being fetched or
// loaded. The condition is transient: the caller may show a placeholder and
// retry on the next trigger.
var ErrModelLoading = errors.New("model is loading")

// ErrCorruptStorage is returned when a backend's local model or cache storage
// is corrupted. It is fatal for the backend: callers must not retry, and the
// user needs to clear the backend's storage and reload the model.
var ErrCorruptStorage = errors.New("model storage is corrupted; clear the backend's storage and reload the model")

// Backend is the abstraction over any machine-translation engine.
type Backend interface {
	// Translate renders text from srcLang into tgtLang. Language codes are
	// lowercase ISO 639-1 (e.g., "nb", "en", "ru").
	//
	// Returns [ErrUnsupportedPair] without performing I/O when the pair is
	// not supported, [ErrNotReady]/[ErrModelLoading] for transient readiness
	// conditions, and [ErrCorruptStorage] for fatal local-storage damage.
	Translate(ctx context.Context, text, srcLang, tgtLang string) (string, error)

	// Ready reports whether the backend can serve translations right now.
	// Implementations may probe their engine; the result may be cached.
	Ready(ctx context.Context) bool

	// CanTranslate reports whether the backend supports the language pair at
	// all, independent of current readiness.
	CanTranslate(srcLang, tgtLang string) bool
}
