package activity

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestNotifyNil(t *testing.T) {
	Notify(nil, true) // must not panic
}

func TestNotifyRecoversPanic(t *testing.T) {
	called := false
	Notify(func(bool) {
		called = true
		panic("indicator broke")
	}, true)
	if !called {
		t.Error("callback was not invoked")
	}
}

func TestMulti(t *testing.T) {
	if Multi(nil, nil) != nil {
		t.Error("Multi of nils should be nil")
	}

	var mu sync.Mutex
	var got []bool
	record := func(v bool) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, v)
	}
	f := Multi(record, func(bool) { panic("second indicator broke") }, record)

	Notify(f, true)
	Notify(f, false)

	want := []bool{true, true, false, false}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLEDWritesLatestState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brightness")
	led := NewLEDAt(path)
	defer led.Close()

	led.Set(true)
	led.Set(false)
	led.Set(true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && string(data) == "1" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("brightness file never settled on the latest state")
}

func TestLEDSetDoesNotBlockAfterClose(t *testing.T) {
	led := NewLEDAt(filepath.Join(t.TempDir(), "missing", "brightness"))
	led.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			led.Func()(i%2 == 0)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Set blocked after Close")
	}
	led.Close() // second Close is a no-op
}
