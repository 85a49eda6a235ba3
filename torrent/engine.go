package torrent

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"github.com/gammazero/deque"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/torrentxiv/session"
)

var _ session.EngineFactory = &EngineFactory{}

// EngineFactory adds torrents to a shared anacrolix client, one per engine.
type EngineFactory struct {
	c        *Client
	trackers []string
	log      zerolog.Logger
}

// NewEngineFactory returns a factory using c. extraTrackers are announced to
// by every torrent, next to the trackers of its source.
func NewEngineFactory(c *Client, extraTrackers []string) *EngineFactory {
	return &EngineFactory{
		c:        c,
		trackers: extraTrackers,
		log:      log.Logger.With().Str("component", "torrent-engine").Logger(),
	}
}

func (f *EngineFactory) NewEngine(d *session.Descriptor, opts session.Options, n session.Notifier) (session.Engine, error) {
	spec, err := torrentSpec(d)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.Path, 0744); err != nil {
		return nil, fmt.Errorf("error creating download folder: %w", err)
	}

	st := storage.NewFile(opts.Path)
	spec.Storage = st
	if tr := trackers(f.trackers, opts.Extra); len(tr) != 0 {
		spec.Trackers = append(spec.Trackers, tr)
	}

	t, isNew, err := f.c.AddTorrentSpec(spec)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("error adding torrent: %w", err)
	}
	if !isNew {
		_ = st.Close()
		return nil, fmt.Errorf("torrent %s is already running", d.InfoHash)
	}
	t.SetMaxEstablishedConns(opts.Connections)

	sub := t.SubscribePieceStateChanges()
	e := &engine{
		t:        t,
		st:       st,
		n:        n,
		path:     opts.Path,
		sampler:  newSampler(nil),
		chokes:   f.c.chokes,
		sub:      sub,
		values:   sub.Values,
		queue:    newPieceQueue(),
		verified: roaring.New(),
		log:      f.log.With().Str("hash", d.InfoHash).Logger(),
	}

	e.log.Debug().
		Str("path", opts.Path).
		Int("connections", opts.Connections).
		Int("uploads", opts.Uploads).
		Bool("seed", opts.SeedEnabled()).
		Msg("torrent added")

	go e.pump()
	go e.watch()

	return e, nil
}

func torrentSpec(d *session.Descriptor) (*torrent.TorrentSpec, error) {
	switch src := d.Source.(type) {
	case *metainfo.MetaInfo:
		spec, err := torrent.TorrentSpecFromMetaInfoErr(src)
		if err != nil {
			return nil, fmt.Errorf("error reading torrent spec: %w", err)
		}
		return spec, nil
	case string:
		spec, err := torrent.TorrentSpecFromMagnetUri(src)
		if err != nil {
			return nil, fmt.Errorf("error reading magnet: %w", err)
		}
		return spec, nil
	}

	var h metainfo.Hash
	if err := h.FromHexString(d.InfoHash); err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrInvalidDescriptor, err)
	}
	spec := &torrent.TorrentSpec{}
	spec.InfoHash = h
	spec.DisplayName = d.Name
	return spec, nil
}

// trackers merges the client wide trackers with a "trackers" option of the
// session. YAML decodes lists into []any, so both forms are accepted.
func trackers(base []string, extra map[string]any) []string {
	out := append([]string(nil), base...)
	switch v := extra["trackers"].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, t := range v {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		out = append(out, v)
	}

	seen := make(map[string]struct{}, len(out))
	res := out[:0]
	for _, t := range out {
		if _, ok := seen[t]; ok || t == "" {
			continue
		}
		seen[t] = struct{}{}
		res = append(res, t)
	}
	return res
}

type engine struct {
	t       *torrent.Torrent
	st      storage.ClientImplCloser
	n       session.Notifier
	path    string
	sampler *sampler
	chokes  *chokes
	sub     interface{ Close() }
	queue   *pieceQueue
	log     zerolog.Logger

	values <-chan torrent.PieceStateChange
	// verified is only touched by watch.
	verified *roaring.Bitmap

	destroyOnce sync.Once
}

func (e *engine) InfoHash() string { return e.t.InfoHash().HexString() }
func (e *engine) Name() string     { return e.t.Name() }
func (e *engine) Path() string     { return e.path }
func (e *engine) NumPieces() int   { return e.t.NumPieces() }

func (e *engine) Files() []session.EngineFile {
	var out []session.EngineFile
	for _, f := range e.t.Files() {
		out = append(out, &file{f: f})
	}
	return out
}

func (e *engine) Swarm() session.Swarm {
	return swarmOf(e.t, e.sampler, e.chokes)
}

// Destroy drops the torrent from the client and calls done once the torrent
// is closed and its storage released.
func (e *engine) Destroy(done func()) {
	e.destroyOnce.Do(func() {
		go func() {
			e.sub.Close()
			e.t.Drop()
			<-e.t.Closed()
			if err := e.st.Close(); err != nil {
				e.log.Warn().Err(err).Msg("error closing storage")
			}
			e.log.Debug().Msg("torrent dropped")
			done()
		}()
	})
}

// pump moves piece state changes off the publishing goroutine, which holds
// the client lock, into the queue.
func (e *engine) pump() {
	for {
		select {
		case c, ok := <-e.values:
			if !ok {
				return
			}
			e.queue.push(c)
		case <-e.t.Closed():
			return
		}
	}
}

func (e *engine) watch() {
	select {
	case <-e.t.GotInfo():
	case <-e.t.Closed():
		return
	}

	e.log.Info().Str("name", e.t.Name()).Int("pieces", e.t.NumPieces()).Msg("obtained torrent info")
	e.n.Ready()

	for i := 0; i < e.t.NumPieces(); i++ {
		ps := e.t.PieceState(i)
		if ps.Complete && ps.Ok {
			e.verify(i)
		}
	}

	for {
		select {
		case <-e.queue.signal:
			for _, c := range e.queue.drain() {
				e.handle(c)
			}
		case <-e.t.Closed():
			return
		}
	}
}

func (e *engine) handle(c torrent.PieceStateChange) {
	switch {
	case c.Complete && c.Ok:
		e.verify(c.Index)
	case c.Partial:
		e.n.Download()
	}
}

func (e *engine) verify(i int) {
	if e.verified.CheckedAdd(uint32(i)) {
		e.n.Verify()
	}
}

type file struct {
	f *torrent.File
}

func (f *file) Name() string  { return filepath.Base(f.f.DisplayPath()) }
func (f *file) Path() string  { return f.f.Path() }
func (f *file) Length() int64 { return f.f.Length() }
func (f *file) Select()       { f.f.Download() }

// pieceQueue is an unbounded FIFO of piece state changes.
type pieceQueue struct {
	mu     sync.Mutex
	q      deque.Deque[torrent.PieceStateChange]
	signal chan struct{}
}

func newPieceQueue() *pieceQueue {
	return &pieceQueue{signal: make(chan struct{}, 1)}
}

func (p *pieceQueue) push(c torrent.PieceStateChange) {
	p.mu.Lock()
	p.q.PushBack(c)
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *pieceQueue) drain() []torrent.PieceStateChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]torrent.PieceStateChange, 0, p.q.Len())
	for p.q.Len() > 0 {
		out = append(out, p.q.PopFront())
	}
	return out
}
