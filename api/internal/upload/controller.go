package upload

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"medist/api/internal/analysis"
)

const DefaultTimeout = 60 * time.Second

// Analyzer is the part of analysis.Client the controller needs.
type Analyzer interface {
	Analyze(ctx context.Context, doc analysis.Document) (analysis.Result, error)
}

// Controller runs the upload flow for one session:
//
//	Idle --Submit--> Analyzing --ok--> Succeeded
//	                 Analyzing --err--> Failed
//	{Succeeded, Failed} --Submit--> Analyzing
//	any --Reset--> Idle
//
// At most one analysis is in flight. Every Submit and Reset takes a new
// sequence number; an analysis whose number is no longer current has its
// outcome dropped.
type Controller struct {
	an      Analyzer
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	seq     uint64
	state   Snapshot
	changed chan struct{}
	subs    map[int]chan Snapshot
	nextSub int
}

type Option func(*Controller)

// WithTimeout bounds every analysis call; a hit deadline fails as transport_failure.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

func NewController(an Analyzer, opts ...Option) *Controller {
	c := &Controller{
		an:      an,
		timeout: DefaultTimeout,
		log:     zap.NewNop(),
		changed: make(chan struct{}),
		subs:    make(map[int]chan Snapshot),
	}
	for _, o := range opts {
		o(c)
	}
	c.state = Snapshot{Phase: Idle, UpdatedAt: time.Now()}
	return c
}

// State returns the current snapshot.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit starts analysing doc. It returns false, changing nothing, when an
// analysis is already running. The Analyzing state is visible to State and
// subscribers before Submit returns.
func (c *Controller) Submit(doc analysis.Document) bool {
	c.mu.Lock()
	if c.state.Phase == Analyzing {
		c.mu.Unlock()
		c.log.Debug("submit ignored: analysis in flight", zap.Uint64("seq", c.seq))
		return false
	}
	c.seq++
	seq := c.seq
	c.setLocked(Snapshot{Phase: Analyzing, Seq: seq, Document: describe(doc)})
	c.mu.Unlock()

	go c.run(seq, doc)
	return true
}

// Reset returns to Idle from any state. A running analysis is not cancelled,
// its outcome is discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.setLocked(Snapshot{Phase: Idle, Seq: c.seq})
}

func (c *Controller) run(seq uint64, doc analysis.Document) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	res, err := c.an.Analyze(ctx, doc)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq {
		c.log.Info("stale analysis outcome dropped", zap.Uint64("seq", seq), zap.Uint64("current", c.seq))
		return
	}
	if err != nil {
		f := failureFor(err)
		c.log.Warn("upload failed", zap.Uint64("seq", seq), zap.String("kind", string(f.Kind)), zap.Error(err))
		c.setLocked(Snapshot{Phase: Failed, Seq: seq, Failure: f})
		return
	}
	c.setLocked(Snapshot{Phase: Succeeded, Seq: seq, Result: &res})
}

func failureFor(err error) *Failure {
	kind := analysis.KindOf(err)
	msg := Message(kind)
	if ae, ok := analysis.AsError(err); ok && kind == analysis.KindInvalidInput && ae.Msg != "" {
		msg = ae.Msg
	}
	return &Failure{Kind: kind, Message: msg}
}

// Message is the user-facing text for a failure kind.
func Message(k analysis.Kind) string {
	switch k {
	case analysis.KindInvalidInput:
		return "The file is empty or not a supported image or PDF."
	case analysis.KindTransportFailure:
		return "The analysis service could not be reached in time. Please try again."
	case analysis.KindCapabilityRejected:
		return "The analysis service declined the request."
	case analysis.KindMalformedResponse:
		return "The analysis service returned an unusable answer."
	}
	return "Analysis failed."
}

// Wait blocks until the controller is not Analyzing or ctx is done.
func (c *Controller) Wait(ctx context.Context) (Snapshot, error) {
	for {
		c.mu.Lock()
		s, ch := c.state, c.changed
		c.mu.Unlock()
		if s.Phase != Analyzing {
			return s, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return c.State(), ctx.Err()
		}
	}
}

// Subscribe delivers the current snapshot and then every transition.
// The channel holds only the latest undelivered snapshot, so a slow reader
// skips intermediate states instead of blocking the controller.
// The returned func unsubscribes and closes the channel.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.state
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
			c.mu.Unlock()
		})
	}
}

// Close resets the controller and closes all subscriptions.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// closeIfIdle closes the controller when it is not analysing and has not
// changed state since cutoff.
func (c *Controller) closeIfIdle(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase == Analyzing || !c.state.UpdatedAt.Before(cutoff) {
		return false
	}
	c.closeLocked()
	return true
}

func (c *Controller) closeLocked() {
	c.seq++
	c.setLocked(Snapshot{Phase: Idle, Seq: c.seq})
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

func (c *Controller) setLocked(s Snapshot) {
	s.UpdatedAt = time.Now()
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}
