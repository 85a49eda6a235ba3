package session

import (
	"sync"
	"time"
)

// Clock is the time source of a controller.
type Clock interface {
	Now() time.Time
	// Every calls fn every d until stop is called. fn runs on its own
	// goroutine; stop does not wait for a running fn.
	Every(d time.Duration, fn func()) (stop func())
}

// SystemClock is backed by the time package.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Every(d time.Duration, fn func()) func() {
	t := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				fn()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.Stop()
			close(done)
		})
	}
}
