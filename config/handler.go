package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Handler reads and writes the yaml configuration file at a fixed path.
type Handler struct {
	p string

	mu   sync.Mutex
	conf *Root
}

func NewHandler(path string) *Handler {
	return &Handler{p: path}
}

func (c *Handler) Path() string { return c.p }

// GetRaw returns the file contents, writing a default configuration first if
// the file does not exist.
func (c *Handler) GetRaw() ([]byte, error) {
	f, err := os.ReadFile(c.p)
	if os.IsNotExist(err) {
		log.Info().Str("file", c.p).Msg("configuration file does not exist, creating from defaults")
		return c.createDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("error reading configuration file: %w", err)
	}

	return f, nil
}

// Get parses the configuration file and applies defaults. The parsed value is
// cached until the next Save or reload.
func (c *Handler) Get() (*Root, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conf != nil {
		return c.conf, nil
	}

	conf, err := c.load()
	if err != nil {
		return nil, err
	}
	c.conf = conf
	return conf, nil
}

func (c *Handler) load() (*Root, error) {
	b, err := c.GetRaw()
	if err != nil {
		return nil, err
	}

	return parse(b)
}

func parse(b []byte) (*Root, error) {
	conf := &Root{}
	if err := yaml.Unmarshal(b, conf); err != nil {
		return nil, fmt.Errorf("error parsing configuration file: %w", err)
	}

	return AddDefaults(conf), nil
}

// Save writes conf to the configuration file.
func (c *Handler) Save(conf *Root) error {
	b, err := yaml.Marshal(conf)
	if err != nil {
		return fmt.Errorf("error marshaling configuration: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.write(b); err != nil {
		return err
	}
	c.conf = conf
	return nil
}

func (c *Handler) createDefault() ([]byte, error) {
	b, err := yaml.Marshal(AddDefaults(&Root{}))
	if err != nil {
		return nil, fmt.Errorf("error marshaling default configuration: %w", err)
	}

	if err := c.write(b); err != nil {
		return nil, err
	}

	return b, nil
}

func (c *Handler) write(b []byte) error {
	if err := os.MkdirAll(filepath.Dir(c.p), 0744); err != nil {
		return fmt.Errorf("error creating configuration folder: %w", err)
	}

	if err := os.WriteFile(c.p, b, 0644); err != nil {
		return fmt.Errorf("error writing configuration file: %w", err)
	}

	return nil
}

// Watch calls fn with the reloaded configuration every time the file is
// written. Invalid files are logged and skipped. Close the returned watcher
// to stop.
func (c *Handler) Watch(fn func(*Root)) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// editors often replace the file, so the folder is watched
	if err := w.Add(filepath.Dir(c.p)); err != nil {
		_ = w.Close()
		return nil, err
	}

	l := log.Logger.With().Str("component", "config").Str("file", c.p).Logger()
	name := filepath.Clean(c.p)

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				b, err := os.ReadFile(c.p)
				if err != nil || len(b) == 0 {
					// truncated mid write, a later event carries the content
					continue
				}

				conf, err := parse(b)
				if err != nil {
					l.Warn().Err(err).Msg("ignoring configuration change")
					continue
				}

				c.mu.Lock()
				c.conf = conf
				c.mu.Unlock()

				l.Info().Msg("configuration reloaded")
				fn(conf)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.Error().Err(err).Msg("watcher error")
			}
		}
	}()

	return w, nil
}
