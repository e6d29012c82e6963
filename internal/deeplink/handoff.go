// Package deeplink implements the authentication handoff a merchant follows
// when opening the app from an external link: parameter parsing with a
// launch-URL fallback, token decryption, and the single-shot state machine
// that decides where the user lands.
package deeplink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// State is the handoff parsing state. Idle is initial; Success and Error
// are terminal for a given parse attempt.
type State int

const (
	StateIdle State = iota
	StateParsing
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateParsing:
		return "parsing"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state by name, matching how it is logged.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the name form produced by MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "idle":
		*s = StateIdle
	case "parsing":
		*s = StateParsing
	case "success":
		*s = StateSuccess
	case "error":
		*s = StateError
	default:
		return fmt.Errorf("unknown handoff state %q", name)
	}
	return nil
}

// Destination is an abstract routing target; the router collaborator owns
// the actual navigation.
type Destination string

const (
	DestinationNone    Destination = ""
	DestinationHome    Destination = "HOME"
	DestinationLogin   Destination = "LOGIN"
	DestinationHandoff Destination = "HANDOFF"
)

// URLSource supplies the launch URL fallback (source 2). Retrieval may
// block, so it takes a context.
type URLSource interface {
	InitialURL(ctx context.Context) (string, error)
}

// URLSourceFunc adapts a function to the URLSource interface.
type URLSourceFunc func(ctx context.Context) (string, error)

func (f URLSourceFunc) InitialURL(ctx context.Context) (string, error) {
	return f(ctx)
}

// Outcome is the result of a parse attempt.
type Outcome struct {
	State  State
	Params Params
}

// Handoff runs the deep-link parse exactly once. Structured parameters are
// consulted first; the launch URL fallback is only awaited when they are
// incomplete. Repeat Start calls return the recorded outcome without
// re-parsing.
type Handoff struct {
	primary   Params
	fallback  URLSource
	devMarker string
	logger    *zap.Logger

	mu      sync.Mutex
	started bool
	state   State
	params  Params
}

// Option configures a Handoff.
type Option func(*Handoff)

// WithFallback sets the launch-URL fallback source.
func WithFallback(src URLSource) Option {
	return func(h *Handoff) { h.fallback = src }
}

// WithDevMarker sets a substring identifying internal development-tooling
// URLs, which are ignored rather than parsed.
func WithDevMarker(marker string) Option {
	return func(h *Handoff) { h.devMarker = marker }
}

// WithLogger sets the logger used for degraded fallback paths.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handoff) { h.logger = logger }
}

// NewHandoff creates a handoff seeded with the structured parameters, which
// may be zero when the caller only has a launch URL.
func NewHandoff(primary Params, opts ...Option) *Handoff {
	h := &Handoff{
		primary: primary,
		state:   StateIdle,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// State returns the current parsing state.
func (h *Handoff) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Params returns the validated parameters; meaningful only in StateSuccess.
func (h *Handoff) Params() Params {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.params
}

// Start runs the parse attempt. The first call transitions idle → parsing
// and drives it to a terminal state; subsequent calls are no-ops returning
// the recorded outcome, so re-entrant triggering cannot restart the parse.
func (h *Handoff) Start(ctx context.Context) Outcome {
	h.mu.Lock()
	if h.started {
		out := Outcome{State: h.state, Params: h.params}
		h.mu.Unlock()
		return out
	}
	h.started = true
	h.state = StateParsing
	h.mu.Unlock()

	params := h.primary
	if !params.Complete() {
		params = h.fromFallback(ctx)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if params.Complete() {
		h.state = StateSuccess
		h.params = params
	} else {
		h.state = StateError
	}
	return Outcome{State: h.state, Params: h.params}
}

// fromFallback retrieves and parses the launch URL. Every failure mode
// degrades to "no params available": a nil source, retrieval errors,
// development-tooling URLs and unparseable URLs all return zero params.
func (h *Handoff) fromFallback(ctx context.Context) Params {
	if h.fallback == nil {
		return Params{}
	}
	raw, err := h.fallback.InitialURL(ctx)
	if err != nil {
		h.logger.Warn("launch url retrieval failed", zap.Error(err))
		return Params{}
	}
	if raw == "" {
		return Params{}
	}
	if h.devMarker != "" && strings.Contains(raw, h.devMarker) {
		h.logger.Debug("ignoring development-tooling url")
		return Params{}
	}
	params, err := ParseURL(raw)
	if err != nil {
		h.logger.Warn("launch url parse failed", zap.Error(err))
		return Params{}
	}
	return params
}

// Route implements the redirect policy as a pure function of the current
// state and the caller's authentication status:
//
//   - already authenticated with parsing never engaged → straight home,
//     short-circuiting the deep-link flow
//   - terminal error → login
//   - terminal success → the handoff view that consumes the parameters
//   - anything else (mid-parse, or authenticated with a non-idle state) →
//     nothing; the flow is a transient router, not a visible surface
func (h *Handoff) Route(authenticated bool) Destination {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case authenticated && h.state == StateIdle:
		return DestinationHome
	case h.state == StateError:
		return DestinationLogin
	case h.state == StateSuccess:
		return DestinationHandoff
	default:
		return DestinationNone
	}
}
