package listener

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebounceWithMaxWait_FiresAfterQuietPeriod(t *testing.T) {
	var calls int32
	d := NewDebounceWithMaxWait(20*time.Millisecond, time.Second, func() {
		atomic.AddInt32(&calls, 1)
	})
	defer d.Stop()

	d.Trigger()
	time.Sleep(5 * time.Millisecond)
	d.Trigger() // resets the debounce window
	time.Sleep(5 * time.Millisecond)
	d.Trigger()

	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one fire after quiet period, got %d", got)
	}
}

func TestDebounceWithMaxWait_ForcesOnMaxWait(t *testing.T) {
	var calls int32
	d := NewDebounceWithMaxWait(time.Hour, 30*time.Millisecond, func() {
		atomic.AddInt32(&calls, 1)
	})
	defer d.Stop()

	// Retrigger faster than the debounce would ever fire; maxWait must
	// still force exactly one execution.
	stop := time.After(70 * time.Millisecond)
loop:
	for {
		select {
		case <-stop:
			break loop
		default:
			d.Trigger()
			time.Sleep(2 * time.Millisecond)
		}
	}

	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got < 1 {
		t.Fatalf("expected maxWait to force at least one fire, got %d", got)
	}
}
