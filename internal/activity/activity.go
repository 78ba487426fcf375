// Package activity provides the optional transfer indicator the relay calls
// around host-to-controller transfers. Indicators are observational only:
// a failing indicator never affects the data path.
package activity

import "log/slog"

// Func is called with true when a host transfer starts and with false once
// it has been flushed.
type Func func(active bool)

// Notify calls f, recovering from any panic inside it. A nil f is a no-op.
func Notify(f Func, active bool) {
	if f == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("[ACTIVITY] indicator callback failed", "panic", r)
		}
	}()
	f(active)
}

// Multi combines several indicators into one. Nil entries are skipped and
// each one is isolated from the others.
func Multi(fs ...Func) Func {
	var live []Func
	for _, f := range fs {
		if f != nil {
			live = append(live, f)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return func(active bool) {
		for _, f := range live {
			Notify(f, active)
		}
	}
}
