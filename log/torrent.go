package log

import (
	"strings"

	"github.com/anacrolix/log"
	"github.com/rs/zerolog"
)

var _ log.Handler = &Torrent{}

// noisy engine messages that are expected under normal operation.
var torrentNoise = []string{
	"webrtc PeerConnection state changed",
	"unhandled announce response",
	"error announcing",
}

// Torrent forwards anacrolix log records to zerolog.
type Torrent struct {
	L zerolog.Logger
}

func (l *Torrent) Handle(r log.Record) {
	text := r.Text()
	for _, n := range torrentNoise {
		if strings.Contains(text, n) {
			l.L.Debug().Msg(text)
			return
		}
	}

	var e *zerolog.Event
	switch r.Level {
	case log.Debug:
		e = l.L.Debug()
	case log.Info:
		e = l.L.Debug().Str("error-type", "info")
	case log.Warning:
		e = l.L.Warn()
	case log.Error:
		e = l.L.Warn().Str("error-type", "error")
	case log.Critical:
		e = l.L.Error().Str("error-type", "critical")
	default:
		e = l.L.Info()
	}

	e.Msg(text)
}
