package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotConfigured is returned when no chat completion backend is set up.
var ErrNotConfigured = errors.New("chat completion is not configured")

// CompletionRequest is the single upstream request of a chat turn.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// TokenStream is a pull-based iterator over upstream content deltas.
type TokenStream interface {
	Next() bool
	Token() string
	Err() error
	Close() error
}

// Completer opens one streaming completion. Stream returns once the upstream
// accepted the request; a non-2xx answer is an error from Stream itself.
type Completer interface {
	Configured() bool
	Stream(ctx context.Context, req CompletionRequest) (TokenStream, error)
}

// State is the lifecycle of one relayed turn.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Turn is one inbound chat message with its assembled context.
type Turn struct {
	Message string
	Context ChatContext
}

// RelayConfig holds the per-turn request parameters.
type RelayConfig struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Relay forwards chat turns upstream and re-emits the response as StreamEvents.
// It never retries; a failed turn has to be resubmitted by the caller.
type Relay struct {
	completer Completer
	cfg       RelayConfig
}

func NewRelay(completer Completer, cfg RelayConfig) *Relay {
	return &Relay{completer: completer, cfg: cfg}
}

type turnRun struct {
	id    string
	state State
	emit  func(StreamEvent) error
	// gone is set once emit failed; nothing more is sent.
	gone bool
}

func (t *turnRun) to(s State) {
	log.Printf("DEBUG: chat: turn %s %s -> %s", t.id, t.state, s)
	t.state = s
}

func (t *turnRun) send(e StreamEvent) bool {
	if t.gone {
		return false
	}
	if err := t.emit(e); err != nil {
		log.Printf("chat: turn %s: client went away: %v", t.id, err)
		t.gone = true
		return false
	}
	return true
}

func (t *turnRun) fail(msg string) State {
	log.Printf("ERROR: chat: turn %s failed: %s", t.id, msg)
	t.send(ErrorEvent(msg))
	t.to(StateFailed)
	return t.state
}

// Run relays one turn. A successful turn emits zero or more token events and one
// done event; a failed turn emits exactly one error event. When emit returns an
// error the upstream read is cancelled and nothing further is emitted.
func (r *Relay) Run(ctx context.Context, turn Turn, emit func(StreamEvent) error) State {
	t := &turnRun{id: uuid.NewString(), state: StateIdle, emit: emit}

	if r.completer == nil || !r.completer.Configured() {
		return t.fail(ErrNotConfigured.Error())
	}
	if strings.TrimSpace(turn.Message) == "" {
		return t.fail("message is required")
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.to(StateSending)
	log.Printf("chat: turn %s: %d recent locations, current %q", t.id, len(turn.Context.RecentLocations), turn.Context.CurrentLocation)

	stream, err := r.completer.Stream(ctx, CompletionRequest{
		System:      BuildSystemPrompt(turn.Context),
		User:        turn.Message,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	})
	if err != nil {
		return t.fail(describe(ctx, err, r.cfg.Timeout))
	}
	defer stream.Close()

	t.to(StateStreaming)
	tokens := 0
	for stream.Next() {
		tok := stream.Token()
		if tok == "" {
			continue
		}
		if !t.send(TokenEvent(tok)) {
			cancel()
			t.to(StateFailed)
			return t.state
		}
		tokens++
	}
	if err := stream.Err(); err != nil {
		return t.fail(describe(ctx, err, r.cfg.Timeout))
	}

	if !t.send(DoneEvent()) {
		t.to(StateFailed)
		return t.state
	}
	t.to(StateCompleted)
	log.Printf("chat: turn %s completed with %d tokens", t.id, tokens)
	return t.state
}

// Complete runs a turn and collects the tokens into one string.
func (r *Relay) Complete(ctx context.Context, turn Turn) (string, error) {
	var (
		b      strings.Builder
		failed string
	)
	state := r.Run(ctx, turn, func(e StreamEvent) error {
		switch e.Type {
		case EventToken:
			b.WriteString(e.Text)
		case EventError:
			failed = e.Message
		}
		return nil
	})
	if state != StateCompleted {
		return "", errors.New(failed)
	}
	return b.String(), nil
}

func describe(ctx context.Context, err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("chat upstream timed out after %s", timeout)
	}
	return err.Error()
}
