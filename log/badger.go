package log

import (
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"
)

var _ badger.Logger = &Badger{}

// Badger forwards badger logs to zerolog. Badger info logs are mostly
// compaction chatter and go to debug.
type Badger struct {
	L zerolog.Logger
}

func (l *Badger) Errorf(m string, f ...interface{}) {
	l.L.Error().Msgf(clean(m), f...)
}

func (l *Badger) Warningf(m string, f ...interface{}) {
	l.L.Warn().Msgf(clean(m), f...)
}

func (l *Badger) Infof(m string, f ...interface{}) {
	l.L.Debug().Msgf(clean(m), f...)
}

func (l *Badger) Debugf(m string, f ...interface{}) {
	l.L.Trace().Msgf(clean(m), f...)
}

func clean(m string) string {
	return strings.TrimSuffix(m, "\n")
}
