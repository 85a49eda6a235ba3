package torrent

import (
	"testing"
	"time"

	"github.com/anacrolix/torrent"
	pp "github.com/anacrolix/torrent/peer_protocol"
	"github.com/stretchr/testify/require"
)

func TestSamplerSpeeds(t *testing.T) {
	require := require.New(t)

	now := time.Unix(100, 0)
	s := newSampler(func() time.Time { return now })

	st := s.sample(1000, 10)
	require.Zero(st.downSpeed)
	require.Equal(int64(1000), st.totalDownloadBytes)

	now = now.Add(2 * time.Second)
	st = s.sample(3000, 110)
	require.Equal(1000.0, st.downSpeed)
	require.Equal(50.0, st.upSpeed)

	// inside the gap the previous sample is reused
	now = now.Add(100 * time.Millisecond)
	st = s.sample(9000, 9000)
	require.Equal(1000.0, st.downSpeed)
	require.Equal(int64(3000), st.totalDownloadBytes)

	// counters never go backwards into negative speeds
	now = now.Add(time.Second)
	st = s.sample(0, 0)
	require.Zero(st.downSpeed)
	require.Zero(st.upSpeed)
}

func TestChokes(t *testing.T) {
	require := require.New(t)

	seen := 0
	var cb torrent.Callbacks
	cb.ReadMessage = func(*torrent.PeerConn, *pp.Message) { seen++ }
	ch := newChokes()
	ch.install(&cb)

	a, b := new(torrent.PeerConn), new(torrent.PeerConn)
	require.True(ch.choking(a))

	cb.ReadMessage(a, &pp.Message{Type: pp.Unchoke})
	require.False(ch.choking(a))
	require.True(ch.choking(b))

	// keepalives carry the zero message type
	cb.ReadMessage(a, &pp.Message{Keepalive: true})
	require.False(ch.choking(a))

	cb.ReadMessage(a, &pp.Message{Type: pp.Have, Index: 3})
	require.False(ch.choking(a))

	cb.ReadMessage(b, &pp.Message{Type: pp.Unchoke})
	cb.ReadMessage(a, &pp.Message{Type: pp.Choke})
	require.True(ch.choking(a))
	require.False(ch.choking(b))
	require.Equal(1, ch.count())

	cb.PeerConnClosed(b)
	require.True(ch.choking(b))
	require.Zero(ch.count())
	require.Equal(5, seen)
}

func TestSwarmCounters(t *testing.T) {
	sw := &swarm{
		st:    stat{totalDownloadBytes: 5, totalUploadBytes: 6, downSpeed: 1.5, upSpeed: 2.5},
		wires: nil,
	}
	require.Equal(t, int64(5), sw.Downloaded())
	require.Equal(t, int64(6), sw.Uploaded())
	require.Equal(t, 1.5, sw.DownloadSpeed())
	require.Equal(t, 2.5, sw.UploadSpeed())
	require.True(t, wire{choking: true}.PeerChoking())
}

func TestTrackers(t *testing.T) {
	require := require.New(t)

	require.Equal([]string{"udp://a", "udp://b"},
		trackers([]string{"udp://a"}, map[string]any{"trackers": []any{"udp://b", "udp://a", 3}}))
	require.Equal([]string{"udp://a", "udp://c"},
		trackers([]string{"udp://a"}, map[string]any{"trackers": []string{"udp://c", ""}}))
	require.Equal([]string{"udp://d"}, trackers(nil, map[string]any{"trackers": "udp://d"}))
	require.Empty(trackers(nil, nil))
}

func TestPieceQueue(t *testing.T) {
	require := require.New(t)

	q := newPieceQueue()
	require.Empty(q.drain())

	for i := 0; i < 3; i++ {
		q.push(torrent.PieceStateChange{Index: i})
	}
	<-q.signal

	got := q.drain()
	require.Len(got, 3)
	for i, c := range got {
		require.Equal(i, c.Index)
	}
	require.Empty(q.drain())

	select {
	case <-q.signal:
		t.Fatal("unexpected signal")
	default:
	}
}
