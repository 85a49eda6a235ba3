package torrent

import (
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"github.com/jkaberg/torrentxiv/session"
)

// gap is the minimum time between two counter samples. Reads closer than gap
// reuse the previous speeds.
const gap time.Duration = 300 * time.Millisecond

type stat struct {
	totalDownloadBytes int64
	totalUploadBytes   int64
	downSpeed          float64
	upSpeed            float64
	time               time.Time
}

// sampler turns the cumulative byte counters of a torrent into throughput.
type sampler struct {
	mut  sync.Mutex
	prev stat
	now  func() time.Time
}

func newSampler(now func() time.Time) *sampler {
	if now == nil {
		now = time.Now
	}
	return &sampler{now: now}
}

func (s *sampler) sample(rd, wd int64) stat {
	s.mut.Lock()
	defer s.mut.Unlock()

	now := s.now()
	if s.prev.time.IsZero() {
		s.prev = stat{totalDownloadBytes: rd, totalUploadBytes: wd, time: now}
		return s.prev
	}

	elapsed := now.Sub(s.prev.time)
	if elapsed < gap {
		return s.prev
	}

	secs := elapsed.Seconds()
	s.prev = stat{
		totalDownloadBytes: rd,
		totalUploadBytes:   wd,
		downSpeed:          float64(max(rd-s.prev.totalDownloadBytes, 0)) / secs,
		upSpeed:            float64(max(wd-s.prev.totalUploadBytes, 0)) / secs,
		time:               now,
	}
	return s.prev
}

type swarm struct {
	st    stat
	wires []session.Wire
}

func (s *swarm) DownloadSpeed() float64 { return s.st.downSpeed }
func (s *swarm) UploadSpeed() float64   { return s.st.upSpeed }
func (s *swarm) Downloaded() int64      { return s.st.totalDownloadBytes }
func (s *swarm) Uploaded() int64        { return s.st.totalUploadBytes }
func (s *swarm) Wires() []session.Wire  { return s.wires }

type wire struct {
	choking bool
}

func (w wire) PeerChoking() bool { return w.choking }

func swarmOf(t *torrent.Torrent, s *sampler, ch *chokes) *swarm {
	ts := t.Stats()
	sw := &swarm{st: s.sample(ts.BytesReadData.Int64(), ts.BytesWrittenData.Int64())}
	for _, pc := range t.PeerConns() {
		sw.wires = append(sw.wires, wire{choking: ch.choking(pc)})
	}
	return sw
}
