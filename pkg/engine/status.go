package engine

// Status is a point-in-time snapshot of the engine, safe to read while an
// acquisition is running.
type Status struct {
	State     State
	Connected bool
	Acquiring bool
	// Running reports whether the producer goroutine is alive.
	Running   bool
	Captured  uint64
	Published uint64
	Dropped   uint64
	LastError string
}

// SnapshotStatus reads the current status. Capture-loop errors are never
// returned synchronously to any caller; this is where they surface.
func (e *Engine) SnapshotStatus() Status {
	e.mu.Lock()
	state := e.state
	active := e.active
	e.mu.Unlock()

	st := Status{
		State:     state,
		Connected: e.sess.Connected(),
		Acquiring: active != nil && active.Load(),
		Running:   e.running.Load(),
		Captured:  e.captured.Load(),
		Published: e.published.Load(),
		Dropped:   e.dropped.Load(),
	}
	if err := e.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// LastError returns the most recent unrecoverable acquisition error, or
// nil. It is cleared by the next successful Start.
func (e *Engine) LastError() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.lastErr
}

func (e *Engine) setLastError(err error) {
	e.errMu.Lock()
	e.lastErr = err
	e.errMu.Unlock()
}

func (e *Engine) clearLastError() {
	e.errMu.Lock()
	e.lastErr = nil
	e.errMu.Unlock()
}
