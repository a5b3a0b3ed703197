package listener

import "time"

// DebounceWithMaxWait schedules fn after debounce elapses with no further
// Trigger calls, but forces execution once maxWait has elapsed since the
// first Trigger in a quiet-period cycle. Exactly one in-flight fn execution
// at a time: a Trigger arriving mid-execution is coalesced into the next
// cycle, not queued.
type DebounceWithMaxWait struct {
	debounce time.Duration
	maxWait  time.Duration
	fn       func()

	triggerCh chan struct{}
	stopCh    chan struct{}
}

func NewDebounceWithMaxWait(debounce, maxWait time.Duration, fn func()) *DebounceWithMaxWait {
	d := &DebounceWithMaxWait{
		debounce:  debounce,
		maxWait:   maxWait,
		fn:        fn,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// Trigger schedules (or reschedules) a pending execution. Non-blocking.
func (d *DebounceWithMaxWait) Trigger() {
	select {
	case d.triggerCh <- struct{}{}:
	default:
	}
}

func (d *DebounceWithMaxWait) Stop() {
	close(d.stopCh)
}

func (d *DebounceWithMaxWait) loop() {
	var debounceTimer, maxWaitTimer *time.Timer
	var debounceC, maxWaitC <-chan time.Time
	running := false

	stopTimers := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		if maxWaitTimer != nil {
			maxWaitTimer.Stop()
		}
		debounceC, maxWaitC = nil, nil
		running = false
	}

	fire := func() {
		stopTimers()
		d.fn()
	}

	for {
		select {
		case <-d.stopCh:
			stopTimers()
			return
		case <-d.triggerCh:
			if !running {
				running = true
				maxWaitTimer = time.NewTimer(d.maxWait)
				maxWaitC = maxWaitTimer.C
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(d.debounce)
			debounceC = debounceTimer.C
		case <-debounceC:
			fire()
		case <-maxWaitC:
			fire()
		}
	}
}
