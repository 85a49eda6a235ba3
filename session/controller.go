package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrInvalidDescriptor = errors.New("invalid torrent descriptor")

const progressWindow = 1000 * time.Millisecond

// Deps are the collaborators of a controller.
type Deps struct {
	Parser  Parser
	Engines EngineFactory
	// Clock defaults to SystemClock.
	Clock Clock
}

type state struct {
	phase        Phase
	complete     bool
	completeSent bool
	// busy is set while an engine teardown is in flight.
	busy   bool
	closed bool

	gen      uint64
	engine   Engine
	verified int
	// total is -1 until the engine is ready.
	total int

	ready    readiness
	metadata *Metadata
	status   Status

	stopStats func()
	teardown  chan struct{}

	// dispatching counts active, progress and stats events being delivered.
	// Teardown callbacks and their inactive or complete event wait in
	// terminal until it drops to zero.
	dispatching int
	terminal    []func()
}

// Controller drives the lifecycle of one torrent: it acquires an engine on
// Start, tears it down on Pause or completion, and publishes lifecycle,
// progress and stats events.
type Controller struct {
	log     zerolog.Logger
	desc    *Descriptor
	opts    Options
	engines EngineFactory
	clock   Clock
	bus     *Bus

	mu       sync.Mutex
	st       state
	progress *Throttle
}

// New parses source and builds a controller for it. An unparseable source
// fails with ErrInvalidDescriptor and nothing is started. Unless
// opts.Autostart is false the session starts right away.
func New(source any, opts Options, deps Deps) (*Controller, error) {
	if deps.Parser == nil || deps.Engines == nil {
		return nil, errors.New("parser and engine factory are required")
	}

	d, err := deps.Parser.Parse(source)
	if err != nil {
		if errors.Is(err, ErrInvalidDescriptor) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if d == nil || d.InfoHash == "" {
		return nil, ErrInvalidDescriptor
	}

	clk := deps.Clock
	if clk == nil {
		clk = SystemClock
	}

	c := &Controller{
		log:     log.Logger.With().Str("component", "session").Str("hash", d.InfoHash).Logger(),
		desc:    d.clone(),
		opts:    opts.withDefaults(d.InfoHash),
		engines: deps.Engines,
		clock:   clk,
		bus:     NewBus(),
	}
	c.progress = NewThrottle(progressWindow, clk.Now)
	c.st.phase = Paused
	c.st.total = -1
	c.st.status = Status{InfoHash: d.InfoHash, Phase: Paused}

	if c.opts.AutostartEnabled() {
		if err := c.Start(); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// On subscribes fn to events of type t.
func (c *Controller) On(t EventType, fn Handler) (unsubscribe func()) {
	return c.bus.Subscribe(t, fn)
}

// OnAny subscribes fn to every event.
func (c *Controller) OnAny(fn Handler) (unsubscribe func()) {
	return c.bus.SubscribeAll(fn)
}

func (c *Controller) Descriptor() *Descriptor { return c.desc.clone() }

// Options returns the effective options, defaults included.
func (c *Controller) Options() Options { return c.opts }

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.phase
}

// Metadata returns the snapshot captured when the last engine became ready,
// or nil if no engine ever did.
func (c *Controller) Metadata() *Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.metadata.clone()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.status
}

// Traffic returns live swarm counters, or nil when the session is not active.
func (c *Controller) Traffic() *TrafficStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.phase != Active {
		return nil
	}
	return traffic(c.st.status.Percentage, c.st.engine.Swarm())
}

// Start acquires a fresh engine. It is a no-op unless the session is paused,
// and once the torrent completed or the controller was closed.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.st
	if s.phase != Paused || s.busy || s.closed || s.complete || len(s.terminal) != 0 {
		return nil
	}

	s.gen++
	s.phase = Starting
	s.verified = 0
	s.total = -1
	s.ready.reset()

	e, err := c.engines.NewEngine(c.desc, c.opts, &notifier{c: c, gen: s.gen})
	if err != nil {
		s.phase = Paused
		c.refreshStatusLocked()
		return fmt.Errorf("error starting engine: %w", err)
	}
	s.engine = e
	c.refreshStatusLocked()

	c.log.Info().Str("path", c.opts.Path).Msg("session starting")
	return nil
}

// Pause tears the engine down. It is a no-op unless the session is active
// and no teardown is in flight. Once teardown finished, done (if not nil) is
// called with the final snapshot and an inactive or complete event fires.
func (c *Controller) Pause(done func(Snapshot)) {
	var fx effects
	c.mu.Lock()
	c.pauseLocked(&fx, done)
	c.mu.Unlock()
	fx.run()
}

// Close disposes the controller: any engine, ready or not, is torn down and
// later starts are ignored. It waits for the teardown or ctx.
func (c *Controller) Close(ctx context.Context) error {
	var fx effects
	c.mu.Lock()
	c.st.closed = true
	switch c.st.phase {
	case Active:
		c.pauseLocked(&fx, nil)
	case Starting:
		c.teardownLocked(&fx, nil)
	}
	wait := c.st.teardown
	c.mu.Unlock()
	fx.run()

	if wait == nil {
		return nil
	}
	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) pauseLocked(fx *effects, done func(Snapshot)) bool {
	if c.st.phase != Active || c.st.busy {
		return false
	}
	c.teardownLocked(fx, done)
	return true
}

func (c *Controller) teardownLocked(fx *effects, done func(Snapshot)) {
	s := &c.st
	s.busy = true
	s.phase = Pausing
	s.teardown = make(chan struct{})
	c.refreshStatusLocked()

	e, gen := s.engine, s.gen
	fx.add(func() {
		c.log.Debug().Msg("destroying engine")
		e.Destroy(func() { c.onDestroyed(gen, done) })
	})
}

func (c *Controller) onDestroyed(gen uint64, done func(Snapshot)) {
	c.mu.Lock()
	s := &c.st
	if gen != s.gen || s.phase != Pausing {
		c.mu.Unlock()
		return
	}

	s.phase = Paused
	s.busy = false
	s.engine = nil
	s.ready.reset()
	c.stopStatsLocked()
	c.refreshStatusLocked()

	typ := EventInactive
	if s.complete && !s.completeSent {
		typ = EventComplete
		s.completeSent = true
	}
	snap := c.snapshotLocked()
	teardown := s.teardown
	s.teardown = nil

	finish := func() {
		c.log.Info().Str("event", string(typ)).Float64("percentage", snap.Status.Percentage).Msg("session paused")

		if done != nil {
			done(snap)
		}
		c.emit(typ, snap)
		if teardown != nil {
			close(teardown)
		}
	}
	if s.dispatching > 0 {
		s.terminal = append(s.terminal, finish)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	finish()
}

func (c *Controller) onReady(gen uint64) {
	var fx effects
	c.mu.Lock()
	s := &c.st
	if gen != s.gen || s.phase != Starting {
		c.mu.Unlock()
		return
	}

	e := s.engine
	s.phase = Active
	s.total = e.NumPieces()
	s.metadata = captureMetadata(c.desc, e)
	if s.verified >= s.total && !s.complete {
		c.finishLocked(&fx)
	}
	c.refreshStatusLocked()

	if !s.complete {
		for _, f := range e.Files() {
			f.Select()
		}
	}

	s.ready.mark(&fx)

	if s.phase == Active {
		c.startStatsLocked()
		snap := c.snapshotLocked()
		s.dispatching++
		fx.add(func() {
			c.emit(EventActive, snap)
			c.endDispatch()
		})
		c.log.Info().Str("name", snap.Metadata.Name).Int("pieces", s.total).Msg("session active")
	}
	c.mu.Unlock()
	fx.run()
}

func (c *Controller) onDownload(gen uint64) {
	c.mu.Lock()
	s := &c.st
	if gen != s.gen || s.phase != Active {
		c.mu.Unlock()
		return
	}
	c.refreshStatusLocked()
	if !c.progress.TryFire() {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	s.dispatching++
	c.mu.Unlock()

	c.emit(EventProgress, snap)
	c.endDispatch()
}

func (c *Controller) onVerify(gen uint64) {
	var fx effects
	c.mu.Lock()
	s := &c.st
	if gen != s.gen || s.engine == nil {
		c.mu.Unlock()
		return
	}
	s.verified++
	c.refreshStatusLocked()
	if s.total >= 0 && s.verified >= s.total && !s.complete {
		c.finishLocked(&fx)
	}
	c.mu.Unlock()
	fx.run()
}

// finishLocked marks the torrent complete and pauses once the engine is
// ready, so completion is never judged against an unknown piece count.
func (c *Controller) finishLocked(fx *effects) {
	c.st.complete = true
	c.refreshStatusLocked()
	c.log.Info().Msg("all pieces verified")
	c.st.ready.whenReady(fx, func(fx *effects) {
		c.pauseLocked(fx, nil)
	})
}

func (c *Controller) onStatsTick(gen uint64) {
	c.mu.Lock()
	if gen != c.st.gen || c.st.phase != Active {
		c.mu.Unlock()
		return
	}
	ts := traffic(c.st.status.Percentage, c.st.engine.Swarm())
	status := c.st.status
	c.st.dispatching++
	c.mu.Unlock()

	c.bus.Emit(Event{Type: EventStats, Status: status, Stats: ts})
	c.endDispatch()
}

// endDispatch closes a delivery counted in dispatching. The last one out
// runs the teardown work that waited for it.
func (c *Controller) endDispatch() {
	c.mu.Lock()
	c.st.dispatching--
	var terminal []func()
	if c.st.dispatching == 0 {
		terminal, c.st.terminal = c.st.terminal, nil
	}
	c.mu.Unlock()

	for _, fn := range terminal {
		fn()
	}
}

func (c *Controller) startStatsLocked() {
	c.stopStatsLocked()
	gen := c.st.gen
	c.st.stopStats = c.clock.Every(c.opts.StatPeriod(), func() { c.onStatsTick(gen) })
}

func (c *Controller) stopStatsLocked() {
	if c.st.stopStats != nil {
		c.st.stopStats()
		c.st.stopStats = nil
	}
}

func (c *Controller) refreshStatusLocked() {
	s := &c.st
	if s.total >= 0 {
		s.status.Percentage = percentage(s.verified, s.total)
	}
	s.status.InfoHash = c.desc.InfoHash
	s.status.Phase = s.phase
	s.status.Active = s.phase == Active
	s.status.Complete = s.complete
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{Metadata: c.st.metadata.clone(), Status: c.st.status}
}

func (c *Controller) emit(t EventType, snap Snapshot) {
	c.bus.Emit(Event{Type: t, Metadata: snap.Metadata, Status: snap.Status})
}

// notifier binds engine notifications to the engine generation that
// produced them; notifications from torn down engines are ignored.
type notifier struct {
	c   *Controller
	gen uint64
}

func (n *notifier) Ready()    { n.c.onReady(n.gen) }
func (n *notifier) Download() { n.c.onDownload(n.gen) }
func (n *notifier) Verify()   { n.c.onVerify(n.gen) }
