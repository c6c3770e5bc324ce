package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	DefaultGreeting = "Hello! I am NutriAI, your health and nutrition assistant. How can I help you today?"
	DefaultFallback = "Sorry, the NutriAI service is unreachable right now. Please try again in a moment."
)

// Controller owns the message log and the pending flag of one chat session.
// At most one question is outstanding at a time; submissions arriving while
// one is in flight are dropped, not queued.
type Controller struct {
	gateway  Answerer
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	greeting string
	fallback string

	submissions metric.Int64Counter
	fallbacks   metric.Int64Counter

	mu       sync.Mutex
	state    Snapshot
	subs     map[*Subscription]struct{}
	inflight sync.WaitGroup
}

// Option configures a Controller
type Option func(*Controller)

// WithGreeting sets the seeded assistant message.
func WithGreeting(text string) Option {
	return func(c *Controller) { c.greeting = text }
}

// WithFallback sets the assistant message used when the gateway fails.
func WithFallback(text string) Option {
	return func(c *Controller) { c.fallback = text }
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) Option {
	return func(c *Controller) { c.state.SessionID = id }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithMeter records submission and fallback counters on meter.
func WithMeter(meter metric.Meter) Option {
	return func(c *Controller) { c.initMetrics(meter) }
}

// New creates a session seeded with the greeting message.
func New(gateway Answerer, opts ...Option) *Controller {
	c := &Controller{
		gateway:  gateway,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		greeting: DefaultGreeting,
		fallback: DefaultFallback,
		subs:     make(map[*Subscription]struct{}),
		state:    Snapshot{SessionID: uuid.NewString()},
	}
	c.initMetrics(noop.NewMeterProvider().Meter("session"))

	for _, opt := range opts {
		opt(c)
	}

	c.state.Messages = []Message{{
		Role:      RoleAssistant,
		Content:   c.greeting,
		Timestamp: c.now(),
	}}
	c.state.Version = 1

	c.logger.Info("created new session", "session_id", c.state.SessionID)
	return c
}

func (c *Controller) initMetrics(meter metric.Meter) {
	var err error
	c.submissions, err = meter.Int64Counter(
		"session.submissions",
		metric.WithDescription("Questions submitted to the session, by result"),
	)
	if err != nil {
		c.submissions, _ = noop.NewMeterProvider().Meter("session").Int64Counter("session.submissions")
	}
	c.fallbacks, err = meter.Int64Counter(
		"session.fallbacks",
		metric.WithDescription("Gateway calls that settled with the fallback message"),
	)
	if err != nil {
		c.fallbacks, _ = noop.NewMeterProvider().Meter("session").Int64Counter("session.fallbacks")
	}
}

// ID returns the session identifier.
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.SessionID
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Submit appends text as a user message and asks the gateway for an answer
// in the background. It reports whether the submission was accepted: blank
// text and submissions made while another answer is pending are ignored.
// Gateway failures never surface here; they become the fallback message.
//
// The gateway call is detached from ctx cancellation and always runs to
// completion.
func (c *Controller) Submit(ctx context.Context, text string) bool {
	question := strings.TrimSpace(text)
	if question == "" {
		c.countSubmission(ctx, "empty")
		return false
	}

	c.mu.Lock()
	if c.state.Pending {
		sessionID := c.state.SessionID
		c.mu.Unlock()
		c.countSubmission(ctx, "busy")
		c.logger.Debug("submission rejected, answer pending", "session_id", sessionID)
		return false
	}
	c.state.Messages = append(c.state.Messages, Message{
		Role:      RoleUser,
		Content:   question,
		Timestamp: c.now(),
	})
	c.state.Pending = true
	c.inflight.Add(1)
	c.publishLocked()
	sessionID := c.state.SessionID
	c.mu.Unlock()

	c.countSubmission(ctx, "accepted")
	c.logger.Info("question submitted", "session_id", sessionID, "length", len(question))

	go c.ask(context.WithoutCancel(ctx), question)
	return true
}

func (c *Controller) ask(ctx context.Context, question string) {
	defer c.inflight.Done()

	start := c.now()
	var (
		answer string
		err    error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gateway panicked: %v", r)
		}
		c.settle(ctx, start, answer, err)
	}()

	answer, err = c.gateway.Ask(ctx, question)
}

// settle appends the assistant message and clears the pending flag in one
// transition.
func (c *Controller) settle(ctx context.Context, start time.Time, answer string, err error) {
	ex := Exchange{StartedAt: start, Outcome: OutcomeAnswered, Err: err}
	content := answer
	if err != nil {
		ex.Outcome = OutcomeFallback
		content = c.fallback
	}

	c.mu.Lock()
	c.state.Messages = append(c.state.Messages, Message{
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: c.now(),
	})
	c.state.Pending = false
	c.publishLocked()
	ex.SessionID = c.state.SessionID
	c.mu.Unlock()

	ex.Duration = c.now().Sub(start)

	if err != nil {
		c.fallbacks.Add(ctx, 1)
		c.logger.Error("gateway call failed, using fallback", "session_id", ex.SessionID, "error", err, "duration_ms", ex.Duration.Milliseconds())
	} else {
		c.logger.Info("answer received", "session_id", ex.SessionID, "duration_ms", ex.Duration.Milliseconds())
	}

	if c.recorder != nil {
		if rerr := c.recorder.RecordExchange(ctx, ex); rerr != nil {
			c.logger.Warn("failed to record exchange", "session_id", ex.SessionID, "error", rerr)
		}
	}
}

// Wait blocks until no gateway call is in flight. It must not race with an
// accepted Submit; call it once input has stopped.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

func (c *Controller) countSubmission(ctx context.Context, result string) {
	c.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// publishLocked bumps the version and hands the new state to every
// subscriber. c.mu must be held.
func (c *Controller) publishLocked() {
	c.state.Version++
	for sub := range c.subs {
		sub.offer(c.state.clone())
	}
}

// Subscription delivers snapshots to one observer. Delivery is latest-wins:
// an observer that falls behind skips to the newest snapshot.
type Subscription struct {
	c    *Controller
	ch   chan Snapshot
	once sync.Once
}

// Subscribe registers an observer. The current snapshot is delivered
// immediately.
func (c *Controller) Subscribe() *Subscription {
	sub := &Subscription{c: c, ch: make(chan Snapshot, 1)}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[sub] = struct{}{}
	sub.offer(c.state.clone())
	return sub
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan Snapshot {
	return s.ch
}

// Close unregisters the observer.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.c.mu.Lock()
		defer s.c.mu.Unlock()
		delete(s.c.subs, s)
		close(s.ch)
	})
}

// offer replaces any undelivered snapshot with snap. Only the publisher
// sends, under the controller lock, so the send below never blocks.
func (s *Subscription) offer(snap Snapshot) {
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}
