package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaberg/torrentxiv/session"
	"github.com/jkaberg/torrentxiv/session/sessiontest"
)

const hash = "4d753474429d817b80ff9e0c441ca660ec5d2450"

type recorder struct {
	mu     sync.Mutex
	events []session.Event
}

func record(c *session.Controller) *recorder {
	r := &recorder{}
	c.OnAny(func(e session.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) count(t session.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) types() []session.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []session.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) last(t session.EventType) (session.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return session.Event{}, false
}

func newController(t *testing.T, f *sessiontest.Factory, clk *sessiontest.Clock, opts session.Options) *session.Controller {
	t.Helper()
	c, err := session.New("hash:"+hash, opts, session.Deps{
		Parser:  sessiontest.Parser,
		Engines: f,
		Clock:   clk,
	})
	require.NoError(t, err)
	return c
}

func paused() session.Options {
	return session.Options{Autostart: session.Bool(false), Path: "/data"}
}

func TestNewInvalidDescriptor(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{}
	for _, src := range []any{nil, true, "test", "https://www.google.com/", "hash:"} {
		c, err := session.New(src, session.Options{}, session.Deps{Parser: sessiontest.Parser, Engines: f})
		require.ErrorIs(err, session.ErrInvalidDescriptor, "source %v", src)
		require.Nil(c)
	}
	require.Zero(f.Count())
}

func TestNewWithoutAutostart(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{Pieces: 4}
	c := newController(t, f, sessiontest.NewClock(), paused())

	require.Equal(session.Paused, c.Phase())
	require.Nil(c.Metadata())
	require.Nil(c.Traffic())
	require.Zero(f.Count())

	st := c.Status()
	require.False(st.Active)
	require.Equal(hash, st.InfoHash)
	require.Zero(st.Percentage)
}

func TestNewAutostart(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{Pieces: 4}
	c := newController(t, f, sessiontest.NewClock(), session.Options{Path: "/data"})

	require.Equal(session.Starting, c.Phase())
	require.Equal(1, f.Count())
	require.Equal("/data/"+hash, f.Last().Options.Path)
}

func TestNewEngineFailure(t *testing.T) {
	f := &sessiontest.Factory{Err: errors.New("boom")}
	_, err := session.New("hash:"+hash, session.Options{}, session.Deps{Parser: sessiontest.Parser, Engines: f})
	require.Error(t, err)
	require.NotErrorIs(t, err, session.ErrInvalidDescriptor)
}

func TestStartIsIdempotent(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{Pieces: 4}
	c := newController(t, f, sessiontest.NewClock(), paused())

	require.NoError(c.Start())
	require.NoError(c.Start())
	require.Equal(1, f.Count())

	f.Last().Ready()
	require.NoError(c.Start())
	require.Equal(1, f.Count())
}

func TestPauseOnlyFromActive(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{Pieces: 4}
	c := newController(t, f, sessiontest.NewClock(), paused())
	r := record(c)

	c.Pause(nil)
	require.NoError(c.Start())
	c.Pause(nil)

	require.Equal(session.Starting, c.Phase())
	require.Zero(f.Last().DestroyCalls())
	require.Empty(r.types())
}

func TestPauseReentrancyGuard(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{Pieces: 4}
	c := newController(t, f, sessiontest.NewClock(), paused())
	r := record(c)

	require.NoError(c.Start())
	e := f.Last()
	e.Ready()

	var snaps []session.Snapshot
	c.Pause(func(s session.Snapshot) { snaps = append(snaps, s) })
	c.Pause(func(s session.Snapshot) { snaps = append(snaps, s) })

	require.Equal(session.Pausing, c.Phase())
	require.Equal(1, e.DestroyCalls())
	require.Empty(snaps)

	e.FinishDestroy()

	require.Equal(session.Paused, c.Phase())
	require.Len(snaps, 1)
	require.False(snaps[0].Status.Active)
	require.NotNil(snaps[0].Metadata)
	require.Equal([]session.EventType{session.EventActive, session.EventInactive}, r.types())
}

func TestMetadataSurvivesPause(t *testing.T) {
	require := require.New(t)

	files := []*sessiontest.File{
		{FileName: "a.iso", FilePath: "dir/a.iso", FileLength: 10},
		{FileName: "b.txt", FilePath: "dir/b.txt", FileLength: 2},
	}
	f := &sessiontest.Factory{Pieces: 4, Files: files, AutoDestroy: true}
	c := newController(t, f, sessiontest.NewClock(), paused())

	require.NoError(c.Start())
	f.Last().Ready()
	for _, file := range files {
		require.True(file.Selected())
	}

	m := c.Metadata()
	require.NotNil(m)
	require.Equal(hash, m.InfoHash)
	require.Equal("/data/"+hash, m.Directory)
	require.Len(m.Files, 2)
	require.Equal("/data/"+hash+"/dir/a.iso", m.Files[0].Path)
	require.Equal("dir/a.iso", m.Files[0].TorrentPath)

	m.Files[0].Name = "mutated"

	c.Pause(nil)
	require.Equal(session.Paused, c.Phase())

	after := c.Metadata()
	require.NotNil(after)
	require.Equal("a.iso", after.Files[0].Name)
}

func TestCompletionScenario(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{Pieces: 4, AutoDestroy: true}
	c := newController(t, f, sessiontest.NewClock(), paused())
	r := record(c)

	require.NoError(c.Start())
	e := f.Last()
	e.Ready()

	var last float64
	for i := 0; i < 4; i++ {
		e.Verify()
		p := c.Status().Percentage
		require.GreaterOrEqual(p, last)
		require.LessOrEqual(p, 100.0)
		last = p
	}

	require.Equal(1, r.count(session.EventActive))
	require.Equal(1, r.count(session.EventComplete))
	require.Zero(r.count(session.EventInactive))

	st := c.Status()
	require.False(st.Active)
	require.True(st.Complete)
	require.Equal(100.0, st.Percentage)
	require.Equal(session.Paused, c.Phase())

	ev, ok := r.last(session.EventComplete)
	require.True(ok)
	require.Equal(100.0, ev.Status.Percentage)
	require.NotNil(ev.Metadata)

	// complete is sticky and terminal
	require.NoError(c.Start())
	require.Equal(1, f.Count())
	require.Equal(1, r.count(session.EventActive))
}

func TestPercentageTruncated(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{Pieces: 3}
	c := newController(t, f, sessiontest.NewClock(), paused())
	require.NoError(c.Start())
	e := f.Last()
	e.Ready()

	e.Verify()
	require.Equal(33.33, c.Status().Percentage)
	e.Verify()
	require.Equal(66.66, c.Status().Percentage)
}

func TestZeroPieceTorrentCompletesOnReady(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{Pieces: 0, AutoDestroy: true}
	c := newController(t, f, sessiontest.NewClock(), paused())
	r := record(c)

	require.NoError(c.Start())
	require.Zero(c.Status().Percentage)
	f.Last().Ready()

	st := c.Status()
	require.True(st.Complete)
	require.Zero(st.Percentage)
	require.Equal(session.Paused, c.Phase())
	require.Equal(1, r.count(session.EventComplete))
	require.Zero(r.count(session.EventActive))

	ev, _ := r.last(session.EventComplete)
	require.Zero(ev.Status.Percentage)
}

func TestVerifyBeforeReadyDefersCompletion(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{Pieces: 2}
	c := newController(t, f, sessiontest.NewClock(), paused())
	r := record(c)

	require.NoError(c.Start())
	e := f.Last()
	e.Verify()
	e.Verify()

	require.False(c.Status().Complete)
	require.Zero(e.DestroyCalls())

	e.Ready()
	require.True(c.Status().Complete)
	require.Equal(1, e.DestroyCalls())
	require.Equal(session.Pausing, c.Phase())

	e.FinishDestroy()
	require.Equal([]session.EventType{session.EventComplete}, r.types())
}

func TestCompletionWhilePausing(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{Pieces: 1}
	c := newController(t, f, sessiontest.NewClock(), paused())
	r := record(c)

	require.NoError(c.Start())
	e := f.Last()
	e.Ready()
	c.Pause(nil)
	e.Verify()
	require.Equal(1, e.DestroyCalls())

	e.FinishDestroy()
	require.Equal([]session.EventType{session.EventActive, session.EventComplete}, r.types())
}

func TestProgressThrottled(t *testing.T) {
	require := require.New(t)

	clk := sessiontest.NewClock()
	f := &sessiontest.Factory{Pieces: 4}
	c := newController(t, f, clk, paused())
	r := record(c)

	require.NoError(c.Start())
	e := f.Last()
	e.Ready()

	for i := 0; i < 1000; i++ {
		e.Download()
		clk.Advance(10 * time.Microsecond)
	}
	require.Equal(1, r.count(session.EventProgress))

	clk.Advance(time.Second)
	e.Download()
	e.Download()
	require.Equal(2, r.count(session.EventProgress))
}

func TestStatsBroadcast(t *testing.T) {
	require := require.New(t)

	clk := sessiontest.NewClock()
	f := &sessiontest.Factory{
		Pieces: 4,
		Swarm: &sessiontest.Swarm{
			Down: 100, Up: 10, DownTotal: 1000, UpTotal: 50,
			Peers: []session.Wire{sessiontest.Wire(true), sessiontest.Wire(false), sessiontest.Wire(false)},
		},
	}
	opts := paused()
	opts.StatInterval = 500
	c := newController(t, f, clk, opts)
	r := record(c)

	require.NoError(c.Start())
	clk.Advance(2 * time.Second)
	require.Zero(r.count(session.EventStats))
	require.Zero(clk.Tickers())

	e := f.Last()
	e.Ready()
	require.Equal(1, clk.Tickers())

	clk.Advance(1600 * time.Millisecond)
	require.Equal(3, r.count(session.EventStats))

	ev, ok := r.last(session.EventStats)
	require.True(ok)
	require.Equal(&session.TrafficStats{
		DownloadSpeed: 100,
		UploadSpeed:   10,
		Downloaded:    1000,
		Uploaded:      50,
		PeersTotal:    3,
		PeersUnchoked: 2,
	}, ev.Stats)

	c.Pause(nil)
	e.FinishDestroy()
	require.Zero(clk.Tickers())

	clk.Advance(5 * time.Second)
	require.Equal(3, r.count(session.EventStats))
}

func TestStatsTimerSingleAcrossCycles(t *testing.T) {
	require := require.New(t)

	clk := sessiontest.NewClock()
	f := &sessiontest.Factory{Pieces: 4, AutoDestroy: true}
	c := newController(t, f, clk, paused())

	for i := 0; i < 3; i++ {
		require.NoError(c.Start())
		f.Last().Ready()
		require.Equal(1, clk.Tickers())
		c.Pause(nil)
		require.Zero(clk.Tickers())
	}
	require.Equal(3, f.Count())
}

func TestRestartResetsVerifiedCount(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{Pieces: 4, AutoDestroy: true}
	c := newController(t, f, sessiontest.NewClock(), paused())

	require.NoError(c.Start())
	e := f.Last()
	e.Ready()
	e.Verify()
	e.Verify()
	require.Equal(50.0, c.Status().Percentage)
	c.Pause(nil)

	require.NoError(c.Start())
	// cached until the new engine reports its piece count
	require.Equal(50.0, c.Status().Percentage)

	f.Last().Ready()
	require.Zero(c.Status().Percentage)

	// the old engine is gone
	e.Verify()
	require.Zero(c.Status().Percentage)
}

func TestTeardownWaitsForStatsDelivery(t *testing.T) {
	require := require.New(t)

	clk := sessiontest.NewClock()
	f := &sessiontest.Factory{Pieces: 4, AutoDestroy: true}
	c := newController(t, f, clk, session.Options{Autostart: session.Bool(false), StatInterval: 100})
	r := record(c)

	entered := make(chan struct{})
	release := make(chan struct{})
	c.On(session.EventStats, func(session.Event) {
		close(entered)
		<-release
	})

	require.NoError(c.Start())
	f.Last().Ready()

	ticked := make(chan struct{})
	go func() {
		defer close(ticked)
		clk.Advance(100 * time.Millisecond)
	}()
	<-entered

	snaps := make(chan session.Snapshot, 1)
	c.Pause(func(s session.Snapshot) { snaps <- s })
	require.Equal(session.Paused, c.Phase())
	require.Zero(clk.Tickers())
	require.Empty(snaps)
	require.Equal([]session.EventType{session.EventActive, session.EventStats}, r.types())

	// the previous engine has not reported inactive yet
	require.NoError(c.Start())
	require.Equal(1, f.Count())

	close(release)
	<-ticked
	require.Len(snaps, 1)
	require.Equal([]session.EventType{
		session.EventActive,
		session.EventStats,
		session.EventInactive,
	}, r.types())

	require.NoError(c.Start())
	require.Equal(2, f.Count())
}

func TestTrafficOnlyWhileActive(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{Pieces: 4, Swarm: &sessiontest.Swarm{DownTotal: 7}}
	c := newController(t, f, sessiontest.NewClock(), paused())

	require.NoError(c.Start())
	require.Nil(c.Traffic())

	e := f.Last()
	e.Ready()
	e.Verify()
	ts := c.Traffic()
	require.NotNil(ts)
	require.Equal(int64(7), ts.Downloaded)
	require.Equal(25.0, ts.Percentage)

	c.Pause(nil)
	require.Nil(c.Traffic())
}

func TestSubscriberCanPauseFromHandler(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{Pieces: 4, AutoDestroy: true}
	c := newController(t, f, sessiontest.NewClock(), paused())
	r := record(c)
	c.On(session.EventActive, func(session.Event) { c.Pause(nil) })

	require.NoError(c.Start())
	f.Last().Ready()

	require.Equal(session.Paused, c.Phase())
	require.Equal([]session.EventType{session.EventActive, session.EventInactive}, r.types())
}

func TestUnsubscribe(t *testing.T) {
	f := &sessiontest.Factory{Pieces: 4}
	c := newController(t, f, sessiontest.NewClock(), paused())

	n := 0
	unsub := c.On(session.EventActive, func(session.Event) { n++ })
	unsub()
	unsub()

	require.NoError(t, c.Start())
	f.Last().Ready()
	assert.Zero(t, n)
}

func TestCloseWhileStarting(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{Pieces: 4, AutoDestroy: true}
	c := newController(t, f, sessiontest.NewClock(), session.Options{})
	r := record(c)

	require.NoError(c.Close(context.Background()))
	require.Equal(session.Paused, c.Phase())
	require.Equal(1, f.Last().DestroyCalls())
	require.Equal([]session.EventType{session.EventInactive}, r.types())

	// late readiness from the torn down engine is ignored
	f.Last().Ready()
	require.Nil(c.Metadata())

	require.NoError(c.Start())
	require.Equal(1, f.Count())
}

func TestCloseWaitsForTeardown(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{Pieces: 4}
	c := newController(t, f, sessiontest.NewClock(), paused())
	require.NoError(c.Start())
	e := f.Last()
	e.Ready()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(c.Close(ctx), context.DeadlineExceeded)

	done := make(chan error)
	go func() { done <- c.Close(context.Background()) }()
	e.FinishDestroy()
	require.NoError(<-done)
	require.Equal(session.Paused, c.Phase())
	require.Equal(1, e.DestroyCalls())
}

func TestOptionsPassThrough(t *testing.T) {
	require := require.New(t)

	f := &sessiontest.Factory{}
	opts := session.Options{
		Connections: 5,
		Path:        "/dl",
		Mkdir:       session.Bool(false),
		Extra:       map[string]any{"trackers": []string{"udp://t"}},
	}
	c := newController(t, f, sessiontest.NewClock(), opts)

	got := f.Last().Options
	require.Equal(5, got.Connections)
	require.Equal(10, got.Uploads)
	require.Equal("/dl", got.Path)
	require.False(got.MkdirEnabled())
	require.False(got.SeedEnabled())
	require.True(got.AutostartEnabled())
	require.Equal(2*time.Second, got.StatPeriod())
	require.Equal([]string{"udp://t"}, got.Extra["trackers"])
	require.Equal(got, c.Options())
}
