package activity

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const sysfsLEDDir = "/sys/class/leds"

// LED drives a Linux sysfs LED from activity notifications. Set never
// blocks: the latest state is handed to a background writer goroutine and
// older pending states are dropped.
type LED struct {
	path string
	ch   chan bool
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewLED creates an indicator for /sys/class/leds/<name>. Call Close when done.
func NewLED(name string) *LED {
	return NewLEDAt(filepath.Join(sysfsLEDDir, name, "brightness"))
}

// NewLEDAt creates an indicator writing "1"/"0" to the brightness file at path.
func NewLEDAt(path string) *LED {
	l := &LED{
		path: path,
		ch:   make(chan bool, 1),
		done: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Set records the requested state. Safe for concurrent use.
func (l *LED) Set(active bool) {
	for {
		select {
		case l.ch <- active:
			return
		default:
		}
		// Drop the stale pending state and retry.
		select {
		case <-l.ch:
		default:
		}
	}
}

// Func returns Set as an activity callback.
func (l *LED) Func() Func { return l.Set }

// Close stops the writer goroutine and waits for it to exit.
func (l *LED) Close() {
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
}

func (l *LED) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case on := <-l.ch:
			l.write(on)
		}
	}
}

func (l *LED) write(on bool) {
	val := []byte("0")
	if on {
		val = []byte("1")
	}
	if err := os.WriteFile(l.path, val, 0644); err != nil {
		slog.Debug("[ACTIVITY] led write failed", "path", l.path, "error", err)
	}
}
