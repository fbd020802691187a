package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/voxgate/voxgate/pkg/audio"
)

// Default session tunables.
const (
	// DefaultTTL is how long a session survives without activity before the
	// cleanup loop evicts it. It also bounds the chunk cache window.
	DefaultTTL = 120 * time.Second

	// DefaultMaxPendingUnits caps the pending buffer; reaching it forces a
	// flush even without punctuation, bounding synthesis latency for
	// punctuation-sparse text.
	DefaultMaxPendingUnits = 24

	// DefaultMaxSendQueue is the send queue capacity available to audio
	// chunks. One extra slot beyond it is reserved for a terminal message.
	DefaultMaxSendQueue = 200
)

// ErrSessionCancelled is returned by enqueue operations once the session has
// been cancelled.
var ErrSessionCancelled = errors.New("session cancelled")

// punctuationSet holds the characters that close a prosodic segment. The set
// deliberately mixes half-width and full-width (CJK) marks; a segment is
// flushed as soon as its last pending character is one of these.
const punctuationSet = "，。！？；：,.!?;:\n"

// isPunctuation reports whether r terminates a segment.
func isPunctuation(r rune) bool {
	for _, p := range punctuationSet {
		if r == p {
			return true
		}
	}
	return false
}

// Segment is a flushed run of pending characters handed to the synthesis
// loop. Start and End are inclusive unit indexes; Text holds exactly
// End−Start+1 characters.
type Segment struct {
	Start int
	End   int
	Text  string
}

// SessionConfig carries the per-session tunables. Zero values fall back to
// the package defaults.
type SessionConfig struct {
	TTL             time.Duration
	MaxPendingUnits int
	MaxSendQueue    int

	// Now overrides the clock; used by tests. Defaults to time.Now.
	Now func() time.Time
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxPendingUnits <= 0 {
		c.MaxPendingUnits = DefaultMaxPendingUnits
	}
	if c.MaxSendQueue <= 0 {
		c.MaxSendQueue = DefaultMaxSendQueue
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Session is the per-session aggregate: ingress buffer, chunk cache, bounded
// send queue, and lifecycle flags. The ingress handler and the synthesis loop
// are the only mutators; both synchronize on the session mutex. Exported
// methods are safe for concurrent use.
type Session struct {
	id   string
	spec audio.Spec

	ttl             time.Duration
	maxPendingUnits int
	maxSendQueue    int
	now             func() time.Time

	mu            sync.Mutex
	createdAt     time.Time
	lastActivity  time.Time
	seq           int64 // next outgoing message sequence, starts at 1
	cancelled     bool
	finished      bool
	nextUnitIndex int
	pendingUnits  []rune
	pendingStart  int // unit index of pendingUnits[0]; -1 when buffer empty
	chunkSeq      int
	cache         []*CachedChunk
	synthStarted  bool

	// sendMu serializes sequence assignment with queue insertion so that
	// queue order always matches outgoing seq order.
	sendMu       sync.Mutex
	terminalSent bool
	sendQueue    chan Outbound

	cancelOnce sync.Once
	cancelCh   chan struct{}
	synthDone  chan struct{}
}

// NewSession creates a session with the given identity, audio spec, and
// tunables. The send queue is provisioned with one slot beyond MaxSendQueue,
// reserved for a terminal error or tts_end so slow clients cannot starve it.
func NewSession(id string, spec audio.Spec, cfg SessionConfig) *Session {
	cfg = cfg.withDefaults()
	now := cfg.Now()
	return &Session{
		id:              id,
		spec:            spec,
		ttl:             cfg.TTL,
		maxPendingUnits: cfg.MaxPendingUnits,
		maxSendQueue:    cfg.MaxSendQueue,
		now:             cfg.Now,
		createdAt:       now,
		lastActivity:    now,
		seq:             1,
		pendingStart:    -1,
		sendQueue:       make(chan Outbound, cfg.MaxSendQueue+1),
		cancelCh:        make(chan struct{}),
		synthDone:       make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Spec returns the session's immutable audio spec.
func (s *Session) Spec() audio.Spec { return s.spec }

// Touch records activity, postponing TTL eviction.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// Expired reports whether the session has been idle longer than its TTL.
func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastActivity) > s.ttl
}

// AppendText appends the characters of text to the pending buffer, assigning
// each a monotonic unit index. Empty deltas are ignored; deltas arriving
// after cancellation are silently dropped. Never blocks.
func (s *Session) AppendText(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.lastActivity = s.now()
	for _, r := range text {
		if s.pendingStart < 0 {
			s.pendingStart = s.nextUnitIndex
		}
		s.pendingUnits = append(s.pendingUnits, r)
		s.nextUnitIndex++
	}
}

// ShouldFlush reports whether the pending buffer is ready for synthesis:
// non-empty and either at the size cap or ending in punctuation.
func (s *Session) ShouldFlush() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingUnits) == 0 {
		return false
	}
	if len(s.pendingUnits) >= s.maxPendingUnits {
		return true
	}
	return isPunctuation(s.pendingUnits[len(s.pendingUnits)-1])
}

// PopPendingSegment atomically takes the entire pending buffer and returns it
// as a segment. Returns false when the buffer is empty. This is the only
// operation that moves characters from pending to in-flight.
func (s *Session) PopPendingSegment() (Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingUnits) == 0 || s.pendingStart < 0 {
		return Segment{}, false
	}
	seg := Segment{
		Start: s.pendingStart,
		End:   s.pendingStart + len(s.pendingUnits) - 1,
		Text:  string(s.pendingUnits),
	}
	s.pendingUnits = nil
	s.pendingStart = -1
	return seg, true
}

// Finish marks the session's text stream as complete. The synthesis loop
// drains any residual pending characters and then emits tts_end.
func (s *Session) Finish() {
	s.mu.Lock()
	s.finished = true
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// Finished reports whether the client has signalled end-of-text.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Cancel marks the session cancelled and fires the cancel signal. One-shot
// and irreversible; repeated calls are no-ops.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		s.cancelled = true
		s.lastActivity = s.now()
		s.mu.Unlock()
		close(s.cancelCh)
	})
}

// Cancelled reports whether the session has been cancelled.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Done returns a channel closed when the session is cancelled.
func (s *Session) Done() <-chan struct{} { return s.cancelCh }

// SynthDone returns a channel closed when the synthesis loop has exited.
// If the loop never started, the channel never closes; Manager.Cancel
// accounts for that.
func (s *Session) SynthDone() <-chan struct{} { return s.synthDone }

// Outbound returns the receive side of the send queue. The transport writer
// drains it in FIFO order.
func (s *Session) Outbound() <-chan Outbound { return s.sendQueue }

// QueueLen returns the current send queue depth.
func (s *Session) QueueLen() int { return len(s.sendQueue) }

// nextSeq returns the next outgoing message sequence. Callers hold sendMu.
func (s *Session) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.seq
	s.seq++
	return seq
}

// EnqueueChunk places the chunk's audio_chunk message on the send queue,
// blocking while the queue is full. This blocking put is the primary
// backpressure lever. Returns ErrSessionCancelled if the session is (or
// becomes) cancelled, or if a terminal message has already been sent.
func (s *Session) EnqueueChunk(c *CachedChunk) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.terminalSent || s.Cancelled() {
		return ErrSessionCancelled
	}
	msg := c.Message(s.id, s.nextSeq())
	select {
	case s.sendQueue <- msg:
		return nil
	case <-s.cancelCh:
		return ErrSessionCancelled
	}
}

// TryEnqueueEnd attempts a non-blocking enqueue of the terminal tts_end
// message, using the queue's reserved slot. Reports whether the message was
// placed. At most one terminal message is ever enqueued per session.
func (s *Session) TryEnqueueEnd(cancelled bool) bool {
	return s.tryEnqueueTerminal(func(seq int64) Outbound {
		return EndMessage{Type: TypeTTSEnd, SessionID: s.id, Seq: seq, Cancelled: cancelled}
	})
}

// TryEnqueueError attempts a non-blocking enqueue of a terminal error
// message. Reports whether the message was placed.
func (s *Session) TryEnqueueError(code, message string) bool {
	return s.tryEnqueueTerminal(func(seq int64) Outbound {
		return ErrorMessage{Type: TypeError, SessionID: s.id, Seq: seq, Code: code, Message: message}
	})
}

func (s *Session) tryEnqueueTerminal(build func(seq int64) Outbound) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.terminalSent {
		return false
	}
	select {
	case s.sendQueue <- build(s.nextSeq()):
		s.terminalSent = true
		return true
	default:
		return false
	}
}

// NewChunk assigns the next chunk sequence, builds a CachedChunk for the
// segment, and appends it to the cache, trimming entries older than the TTL
// window. The caller still has to enqueue the chunk's message.
func (s *Session) NewChunk(seg Segment, pcm []byte) *CachedChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkSeq++
	chunk := &CachedChunk{
		CreatedAt:      s.now(),
		ChunkSeq:       s.chunkSeq,
		UnitIndexStart: seg.Start,
		UnitIndexEnd:   seg.End,
		UnitsText:      seg.Text,
		Spec:           s.spec,
		AudioBytes:     pcm,
	}
	s.cache = append(s.cache, chunk)

	cutoff := s.now().Add(-s.ttl)
	kept := s.cache[:0]
	for _, c := range s.cache {
		if !c.CreatedAt.Before(cutoff) {
			kept = append(kept, c)
		}
	}
	s.cache = kept
	return chunk
}

// CachedAfter returns, in chunk_seq order, the cached chunks whose unit range
// starts strictly after lastUnitIndex. A chunk straddling lastUnitIndex is
// considered fully received and skipped.
func (s *Session) CachedAfter(lastUnitIndex int) []*CachedChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*CachedChunk
	for _, c := range s.cache {
		if c.UnitIndexStart > lastUnitIndex {
			out = append(out, c)
		}
	}
	return out
}

// markSynthStarted flips the one-shot loop guard. Reports whether the caller
// won the right to start the loop.
func (s *Session) markSynthStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.synthStarted || s.cancelled {
		return false
	}
	s.synthStarted = true
	return true
}

// synthLoopStarted reports whether the synthesis loop has ever been started.
func (s *Session) synthLoopStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synthStarted
}
