// Package sessiontest provides in-memory collaborators for session
// controllers: a manual clock, a scriptable engine and a parser.
package sessiontest

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jkaberg/torrentxiv/session"
)

// Clock is a manual session.Clock. Periodic callbacks run synchronously on
// the goroutine calling Advance.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	tickers map[int]*ticker
}

type ticker struct {
	id   int
	d    time.Duration
	next time.Time
	fn   func()
}

func NewClock() *Clock {
	return &Clock{
		now:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		tickers: make(map[int]*ticker),
	}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Every(d time.Duration, fn func()) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.tickers[id] = &ticker{id: id, d: d, next: c.now.Add(d), fn: fn}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.tickers, id)
		c.mu.Unlock()
	}
}

// Tickers returns the number of running periodic callbacks.
func (c *Clock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

// Advance moves the clock forward by d, firing every due callback in time
// order.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		t := c.due(target)
		if t == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = t.next
		t.next = t.next.Add(t.d)
		fn := t.fn
		c.mu.Unlock()

		fn()
	}
}

func (c *Clock) due(target time.Time) *ticker {
	var due []*ticker
	for _, t := range c.tickers {
		if !t.next.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].next.Equal(due[j].next) {
			return due[i].id < due[j].id
		}
		return due[i].next.Before(due[j].next)
	})
	return due[0]
}

// File is a scriptable session.EngineFile.
type File struct {
	FileName   string
	FilePath   string
	FileLength int64

	mu       sync.Mutex
	selected bool
}

func (f *File) Name() string  { return f.FileName }
func (f *File) Path() string  { return f.FilePath }
func (f *File) Length() int64 { return f.FileLength }

func (f *File) Select() {
	f.mu.Lock()
	f.selected = true
	f.mu.Unlock()
}

func (f *File) Selected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected
}

// Wire is a peer connection with a fixed choke flag.
type Wire bool

func (w Wire) PeerChoking() bool { return bool(w) }

// Swarm holds fixed counters.
type Swarm struct {
	Down, Up           float64
	DownTotal, UpTotal int64
	Peers              []session.Wire
}

func (s *Swarm) DownloadSpeed() float64 { return s.Down }
func (s *Swarm) UploadSpeed() float64   { return s.Up }
func (s *Swarm) Downloaded() int64      { return s.DownTotal }
func (s *Swarm) Uploaded() int64        { return s.UpTotal }
func (s *Swarm) Wires() []session.Wire  { return s.Peers }

// Engine is a scriptable session.Engine. Tests drive it through Ready,
// Download and Verify; teardown completes immediately when AutoDestroy is
// set, otherwise on FinishDestroy.
type Engine struct {
	Descriptor *session.Descriptor
	Options    session.Options
	Notifier   session.Notifier

	Pieces      int
	FileList    []*File
	SwarmStats  *Swarm
	AutoDestroy bool

	mu           sync.Mutex
	destroyCalls int
	pending      []func()
}

func (e *Engine) InfoHash() string { return e.Descriptor.InfoHash }
func (e *Engine) Name() string     { return e.Descriptor.Name }
func (e *Engine) Path() string     { return e.Options.Path }
func (e *Engine) NumPieces() int   { return e.Pieces }

func (e *Engine) Files() []session.EngineFile {
	out := make([]session.EngineFile, 0, len(e.FileList))
	for _, f := range e.FileList {
		out = append(out, f)
	}
	return out
}

func (e *Engine) Swarm() session.Swarm {
	if e.SwarmStats == nil {
		return &Swarm{}
	}
	return e.SwarmStats
}

func (e *Engine) Destroy(done func()) {
	e.mu.Lock()
	e.destroyCalls++
	auto := e.AutoDestroy
	if !auto {
		e.pending = append(e.pending, done)
	}
	e.mu.Unlock()

	if auto {
		done()
	}
}

// DestroyCalls returns how many teardowns were requested.
func (e *Engine) DestroyCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyCalls
}

// FinishDestroy completes pending teardowns.
func (e *Engine) FinishDestroy() {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, done := range pending {
		done()
	}
}

func (e *Engine) Ready()    { e.Notifier.Ready() }
func (e *Engine) Download() { e.Notifier.Download() }
func (e *Engine) Verify()   { e.Notifier.Verify() }

// Factory builds Engines with the configured pieces and files.
type Factory struct {
	Pieces      int
	Files       []*File
	Swarm       *Swarm
	AutoDestroy bool
	Err         error

	mu      sync.Mutex
	engines []*Engine
}

func (f *Factory) NewEngine(d *session.Descriptor, opts session.Options, n session.Notifier) (session.Engine, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	e := &Engine{
		Descriptor:  d,
		Options:     opts,
		Notifier:    n,
		Pieces:      f.Pieces,
		FileList:    f.Files,
		SwarmStats:  f.Swarm,
		AutoDestroy: f.AutoDestroy,
	}
	f.mu.Lock()
	f.engines = append(f.engines, e)
	f.mu.Unlock()
	return e, nil
}

// Count returns how many engines were built.
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

// Last returns the most recently built engine.
func (f *Factory) Last() *Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.engines) == 0 {
		return nil
	}
	return f.engines[len(f.engines)-1]
}

var errUnparseable = errors.New("unparseable source")

// Parser accepts strings of the form "hash:<infohash>" and pre-parsed
// descriptors.
var Parser = session.ParserFunc(func(source any) (*session.Descriptor, error) {
	switch v := source.(type) {
	case *session.Descriptor:
		return v, nil
	case string:
		if h, ok := strings.CutPrefix(v, "hash:"); ok && h != "" {
			return &session.Descriptor{Source: v, InfoHash: h, Name: "torrent-" + h}, nil
		}
	}
	return nil, errUnparseable
})
