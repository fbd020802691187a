package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/pkg/audio"
	"github.com/voxgate/voxgate/pkg/engine"
)

// Default manager tunables.
const (
	// DefaultCleanupInterval is how often the cleanup loop scans for expired
	// sessions.
	DefaultCleanupInterval = 5 * time.Second

	// DefaultPollInterval is how long the synthesis loop sleeps while
	// waiting for the flush condition.
	DefaultPollInterval = 10 * time.Millisecond
)

// ManagerConfig carries the process-wide gateway tunables. Zero values fall
// back to the package defaults.
type ManagerConfig struct {
	TTL             time.Duration
	MaxPendingUnits int
	MaxSendQueue    int
	CleanupInterval time.Duration
	PollInterval    time.Duration

	// Now overrides the clock; used by tests. Defaults to time.Now.
	Now func() time.Time
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxPendingUnits <= 0 {
		c.MaxPendingUnits = DefaultMaxPendingUnits
	}
	if c.MaxSendQueue <= 0 {
		c.MaxSendQueue = DefaultMaxSendQueue
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics wires gateway metrics. When nil, no metrics are recorded.
func WithMetrics(met *observe.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = met
	}
}

// Manager is the process-wide session registry plus the per-session
// synthesis loops and the TTL cleanup loop. The registry mutex guards only
// O(1) lookup/insert/remove; operations on individual sessions never hold it.
// All exported methods are safe for concurrent use.
type Manager struct {
	engine  engine.Engine
	cfg     ManagerConfig
	logger  *slog.Logger
	metrics *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager that synthesizes with eng.
func NewManager(eng engine.Engine, cfg ManagerConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		engine:   eng,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.With("component", "gateway")
	return m
}

// GetOrCreate returns the session for id, creating and registering it with
// spec on first reference. Existing sessions are touched; the declared spec
// of a later start is ignored. Idempotent.
func (m *Manager) GetOrCreate(id string, spec audio.Spec) *Session {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		s.Touch()
		return s
	}
	s := NewSession(id, spec, SessionConfig{
		TTL:             m.cfg.TTL,
		MaxPendingUnits: m.cfg.MaxPendingUnits,
		MaxSendQueue:    m.cfg.MaxSendQueue,
		Now:             m.cfg.Now,
	})
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info("session created", "session_id", id, "spec", spec.String())
	if m.metrics != nil {
		m.metrics.SessionsCreated.Add(context.Background(), 1)
		m.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	return s
}

// Get returns the session for id, or nil if it is not registered.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartSynthLoop lazily starts the session's synthesis loop. The loop is
// started at most once per session; every loop exit is terminal.
func (m *Manager) StartSynthLoop(s *Session) {
	if !s.markSynthStarted() {
		return
	}
	go func() {
		defer close(s.synthDone)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-s.Done():
				cancel()
			case <-stop:
			}
		}()

		m.synthLoop(ctx, s)
	}()
}

// Cancel cancels the session, waits for its synthesis loop to terminate, and
// removes it from the registry. After Cancel returns, the session produces no
// further outbound messages. Idempotent.
func (m *Manager) Cancel(ctx context.Context, s *Session) error {
	s.Cancel()
	if s.synthLoopStarted() {
		select {
		case <-s.SynthDone():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.remove(s)
	return nil
}

// Finish marks the session's text stream complete and makes sure the
// synthesis loop is running so residual pending text is drained and tts_end
// emitted. It does not wait for the drain.
func (m *Manager) Finish(s *Session) {
	s.Finish()
	m.StartSynthLoop(s)
}

// Resume re-enqueues, in original chunk_seq order, every cached chunk whose
// unit range starts strictly after lastUnitIndex. A lastUnitIndex of -1 means
// the client received nothing. Chunks that aged out of the cache are not
// recoverable; the gateway replays what it has and continues with new
// synthesis from the current head.
//
// A session that is cancelled, or that has idled past its TTL but not yet been
// swept by the cleanup loop, is as good as gone: both map to
// [ErrUnknownSession].
func (m *Manager) Resume(s *Session, lastUnitIndex int) error {
	if s.Cancelled() || s.Expired() {
		return ErrUnknownSession
	}
	s.Touch()
	chunks := s.CachedAfter(lastUnitIndex)
	for _, c := range chunks {
		if err := s.EnqueueChunk(c); err != nil {
			return err
		}
	}
	m.logger.Info("session resumed",
		"session_id", s.ID(),
		"last_unit_index", lastUnitIndex,
		"replayed_chunks", len(chunks),
	)
	return nil
}

// CleanupLoop periodically evicts sessions idle longer than their TTL. It
// snapshots expired sessions under the registry lock, removes them from the
// map, then cancels each outside the lock. Runs until ctx is done.
func (m *Manager) CleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictExpired(ctx)
		}
	}
}

func (m *Manager) evictExpired(ctx context.Context) {
	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Expired() {
			delete(m.sessions, id)
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Cancel()
		if s.synthLoopStarted() {
			select {
			case <-s.SynthDone():
			case <-ctx.Done():
			}
		}
		m.logger.Info("session expired", "session_id", s.ID())
		if m.metrics != nil {
			m.metrics.ActiveSessions.Add(context.Background(), -1)
		}
	}
}

// Shutdown cancels every registered session and waits for their loops to
// terminate or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		delete(m.sessions, id)
		all = append(all, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range all {
		s.Cancel()
		if s.synthLoopStarted() {
			select {
			case <-s.SynthDone():
			case <-ctx.Done():
				errs = append(errs, ctx.Err())
			}
		}
		if m.metrics != nil {
			m.metrics.ActiveSessions.Add(context.Background(), -1)
		}
	}
	return errors.Join(errs...)
}

// remove deletes the session from the registry if still present.
func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	_, present := m.sessions[s.ID()]
	if present {
		delete(m.sessions, s.ID())
	}
	m.mu.Unlock()
	if present && m.metrics != nil {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// synthLoop drains the session's pending buffer: it waits for the flush
// condition, synthesizes each flushed segment, and enqueues the resulting
// chunks. All suspensions are cancellable via the session's cancel signal.
func (m *Manager) synthLoop(ctx context.Context, s *Session) {
	naturalEnd := false
	for !s.Cancelled() {
		// Sustained queue saturation converts into an explicit error using
		// the reserved terminal slot, then cancels the session.
		if s.QueueLen() >= s.maxSendQueue {
			s.TryEnqueueError(CodeBackpressure, "client reading too slowly; backpressure protection tripped")
			s.Cancel()
			m.logger.Warn("session backpressure tripped", "session_id", s.ID(), "queue_len", s.QueueLen())
			m.recordError(CodeBackpressure)
			return
		}

		if !s.ShouldFlush() {
			if s.Finished() {
				// Residual text below the flush thresholds is drained on
				// end-of-text.
				if seg, ok := s.PopPendingSegment(); ok {
					if err := m.synthesizeAndEnqueue(ctx, s, seg); err != nil {
						return
					}
				}
				naturalEnd = true
				break
			}
			select {
			case <-time.After(m.cfg.PollInterval):
			case <-s.Done():
			}
			continue
		}

		seg, ok := s.PopPendingSegment()
		if !ok {
			continue
		}
		if err := m.synthesizeAndEnqueue(ctx, s, seg); err != nil {
			return
		}
	}

	if naturalEnd && !s.Cancelled() {
		s.TryEnqueueEnd(false)
		m.logger.Info("session drained", "session_id", s.ID())
	}
}

// synthesizeAndEnqueue runs one segment through the engine, caches the
// resulting chunk, and enqueues its message. The enqueue may block on queue
// capacity; cancellation unblocks it.
func (m *Manager) synthesizeAndEnqueue(ctx context.Context, s *Session, seg Segment) error {
	if s.Cancelled() {
		return ErrSessionCancelled
	}

	ctx, span := observe.StartSpan(ctx, "gateway.synthesize",
		trace.WithAttributes(
			attribute.String("session_id", s.ID()),
			attribute.Int("unit_index_start", seg.Start),
			attribute.Int("unit_index_end", seg.End),
		))
	defer span.End()

	start := m.cfg.Now()
	pcm, err := m.engine.SynthesizePCM16(ctx, seg.Text, s.Spec())
	if m.metrics != nil {
		m.metrics.SynthesisDuration.Record(ctx, m.cfg.Now().Sub(start).Seconds())
	}
	if err != nil {
		if s.Cancelled() || ctx.Err() != nil {
			// Cancellation surfacing through the engine call is a clean
			// exit, not an engine failure.
			return ErrSessionCancelled
		}
		span.RecordError(err)
		s.TryEnqueueError(CodeEngineFailure, err.Error())
		s.Cancel()
		m.logger.Error("engine failure", "session_id", s.ID(), "err", err)
		m.recordError(CodeEngineFailure)
		return err
	}
	if s.Cancelled() {
		return ErrSessionCancelled
	}

	chunk := s.NewChunk(seg, pcm)
	if err := s.EnqueueChunk(chunk); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.ChunksEmitted.Add(ctx, 1)
		m.metrics.SendQueueDepth.Record(ctx, int64(s.QueueLen()))
	}
	return nil
}

func (m *Manager) recordError(code string) {
	if m.metrics == nil {
		return
	}
	m.metrics.GatewayErrors.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("code", code)))
}
