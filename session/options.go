package session

import (
	"os"
	"path/filepath"
	"time"
)

const (
	defaultConnections  = 100
	defaultUploads      = 10
	defaultStatInterval = 2000
)

// Options tunes a session. Zero values are replaced by defaults when the
// controller is built; caller supplied values are never overwritten. Keys the
// controller does not know about are kept in Extra and reach the engine
// untouched.
type Options struct {
	// Connections is the maximum number of peer connections.
	Connections int `yaml:"connections,omitempty" json:"connections,omitempty"`
	// Uploads is the maximum number of concurrent uploads.
	Uploads int `yaml:"uploads,omitempty" json:"uploads,omitempty"`
	// Path is the destination directory. Defaults to the system temp dir.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// Mkdir stores the data under a per info-hash subdirectory of Path.
	Mkdir *bool `yaml:"mkdir,omitempty" json:"mkdir,omitempty"`
	// Seed keeps serving data after completion, when the engine supports it.
	Seed *bool `yaml:"seed,omitempty" json:"seed,omitempty"`
	// Autostart starts the session as soon as the controller is built.
	Autostart *bool `yaml:"autostart,omitempty" json:"autostart,omitempty"`
	// StatInterval is the stats broadcast period in milliseconds.
	StatInterval int `yaml:"statInterval,omitempty" json:"statInterval,omitempty"`

	Extra map[string]any `yaml:",inline" json:"-"`
}

// Bool returns a pointer to b, for the optional flags of Options.
func Bool(b bool) *bool { return &b }

// MkdirEnabled reports whether a per info-hash subdirectory is used.
func (o Options) MkdirEnabled() bool { return boolOr(o.Mkdir, true) }

// SeedEnabled reports whether the engine should keep seeding.
func (o Options) SeedEnabled() bool { return boolOr(o.Seed, false) }

// AutostartEnabled reports whether the controller starts on construction.
func (o Options) AutostartEnabled() bool { return boolOr(o.Autostart, true) }

// StatPeriod returns StatInterval as a duration.
func (o Options) StatPeriod() time.Duration {
	ms := o.StatInterval
	if ms <= 0 {
		ms = defaultStatInterval
	}
	return time.Duration(ms) * time.Millisecond
}

// withDefaults returns a copy with defaults applied and, when Mkdir is
// enabled, the info-hash joined onto Path.
func (o Options) withDefaults(infoHash string) Options {
	out := o
	if out.Connections <= 0 {
		out.Connections = defaultConnections
	}
	if out.Uploads <= 0 {
		out.Uploads = defaultUploads
	}
	if out.Path == "" {
		out.Path = os.TempDir()
	}
	if out.Mkdir == nil {
		out.Mkdir = Bool(true)
	}
	if out.Seed == nil {
		out.Seed = Bool(false)
	}
	if out.Autostart == nil {
		out.Autostart = Bool(true)
	}
	if out.StatInterval <= 0 {
		out.StatInterval = defaultStatInterval
	}
	if *out.Mkdir {
		out.Path = filepath.Join(out.Path, infoHash)
	}

	if o.Extra != nil {
		out.Extra = make(map[string]any, len(o.Extra))
		for k, v := range o.Extra {
			out.Extra[k] = v
		}
	}

	return out
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
