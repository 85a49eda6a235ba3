package session

// effects are side effects collected while the controller lock is held and
// run once it is released.
type effects []func()

func (fx *effects) add(fn func()) { *fx = append(*fx, fn) }

func (fx effects) run() {
	for _, fn := range fx {
		fn()
	}
}

// readiness holds actions waiting for the engine-ready marker. Pending
// actions are flushed exactly once, in order, when the marker fires.
type readiness struct {
	ready   bool
	pending []func(*effects)
}

func (r *readiness) whenReady(fx *effects, fn func(*effects)) {
	if r.ready {
		fn(fx)
		return
	}
	r.pending = append(r.pending, fn)
}

func (r *readiness) mark(fx *effects) {
	r.ready = true
	pending := r.pending
	r.pending = nil
	for _, fn := range pending {
		fn(fx)
	}
}

func (r *readiness) reset() { r.ready = false }
