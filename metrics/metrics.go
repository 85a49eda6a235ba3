package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaberg/torrentxiv/session"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xiv",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	SessionEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xiv",
		Name:      "session_events_total",
		Help:      "Total session events by type.",
	}, []string{"type"})

	SessionPercentage = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "xiv",
		Name:      "session_percentage",
		Help:      "Share of verified pieces, from 0 to 100.",
	})

	SessionActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "xiv",
		Name:      "session_active",
		Help:      "1 while the session has a running engine, 0 otherwise.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "xiv",
		Name:      "download_speed_bytes",
		Help:      "Current download speed in bytes per second.",
	})

	UploadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "xiv",
		Name:      "upload_speed_bytes",
		Help:      "Current upload speed in bytes per second.",
	})

	Peers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "xiv",
		Name:      "peers",
		Help:      "Connected peers by choke state.",
	}, []string{"state"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		SessionEventsTotal,
		SessionPercentage,
		SessionActive,
		DownloadSpeedBytes,
		UploadSpeedBytes,
		Peers,
	)
}

// Observe keeps the session collectors in sync with c until the returned
// function is called.
func Observe(c *session.Controller) (stop func()) {
	set(c.Status(), nil)
	return c.OnAny(func(e session.Event) {
		SessionEventsTotal.WithLabelValues(string(e.Type)).Inc()
		set(e.Status, e.Stats)
	})
}

func set(st session.Status, ts *session.TrafficStats) {
	SessionPercentage.Set(st.Percentage)
	if !st.Active {
		SessionActive.Set(0)
		DownloadSpeedBytes.Set(0)
		UploadSpeedBytes.Set(0)
		Peers.WithLabelValues("choked").Set(0)
		Peers.WithLabelValues("unchoked").Set(0)
		return
	}
	SessionActive.Set(1)
	if ts == nil {
		return
	}

	DownloadSpeedBytes.Set(ts.DownloadSpeed)
	UploadSpeedBytes.Set(ts.UploadSpeed)
	Peers.WithLabelValues("choked").Set(float64(ts.PeersTotal - ts.PeersUnchoked))
	Peers.WithLabelValues("unchoked").Set(float64(ts.PeersUnchoked))
}
