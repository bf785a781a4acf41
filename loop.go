package asyncsched

import "github.com/bytecodealliance/wasmtime-sub013/internal/arena"

// Run drains the ready queue until every task has reached a terminal
// state or the loop can no longer make progress, in which case it
// raises (or panics with, under [WithDeadlockPolicy]) a *Trap of kind
// [TrapLiveness].
//
// The loop is single-threaded and cooperative: at most one task's guest
// code runs at a time, even for stackful tasks whose entry function
// executes on its own goroutine (spec §9's "task-owned stack" modeled
// as a goroutine parked on an unbuffered channel between suspension
// points).
func (s *Store) Run() error {
	if s.running {
		return newTrap(TrapMisuse, "Run called re-entrantly on a Store already running")
	}
	s.running = true
	defer func() { s.running = false }()

	for {
		h, ok := s.popReady()
		if !ok {
			if s.liveTaskCount() == 0 {
				return nil
			}
			if err := s.onDeadlock(); err != nil {
				s.teardown(err)
				return err
			}
			return nil
		}
		if err := s.step(h); err != nil {
			s.teardown(err)
			return err
		}
	}
}

// liveTaskCount counts tasks that have not reached a terminal state.
func (s *Store) liveTaskCount() int {
	n := 0
	s.tasks.Each(func(_ arena.Index, t *Task) {
		if t.state != TaskReturned && t.state != TaskCancelled {
			n++
		}
	})
	return n
}

func (s *Store) onDeadlock() error {
	if m := s.metrics(); m != nil {
		m.DeadlocksDetected.Inc()
	}
	trap := newTrap(TrapLiveness, msgDeadlock)
	s.log.Error("deadlock detected", map[string]string{"liveTasks": itoa(s.liveTaskCount())})
	if s.opts.deadlockPolicy == DeadlockPanic {
		panic(trap)
	}
	return trap
}

// teardown destroys every live task in reverse creation order after a
// trap, per spec §4.4's teardown-order requirement.
func (s *Store) teardown(cause error) {
	for i := len(s.creationOrder) - 1; i >= 0; i-- {
		h := s.creationOrder[i]
		if h.kind() != KindTask {
			continue
		}
		if t, ok := s.tasks.Get(h.index()); ok && t.state != TaskReturned && t.state != TaskCancelled {
			t.state = TaskCancelled
			t.returnErr = cause
			s.cleanupTask(t)
		}
	}
}

// step runs or resumes one task popped from the ready queue.
func (s *Store) step(h Handle) error {
	t, ok := s.tasks.Get(h.index())
	if !ok {
		return nil // dropped since being enqueued
	}
	switch t.kind {
	case SyncLifted:
		return s.stepSync(h, t)
	case AsyncStackfulLifted:
		return s.stepStackful(h, t)
	case AsyncCallbackLifted:
		return s.stepCallback(h, t)
	default:
		return newTrapf(TrapMisuse, "task has unknown kind %d", t.kind)
	}
}

func (s *Store) stepSync(h Handle, t *Task) error {
	t.state = TaskStarted
	value, err := t.syncEntry()
	return s.finishTask(h, t, value, err)
}

func (s *Store) finishTask(h Handle, t *Task, value []byte, err error) error {
	if t.state == TaskCancelled || t.state == TaskReturned {
		return nil
	}
	if trap, isTrap := err.(*Trap); isTrap {
		return trap
	}
	t.returnValue = value
	t.returnErr = err
	t.state = TaskReturned
	s.cleanupTask(t)
	if m := s.metrics(); m != nil {
		m.TasksReturned.Inc()
	}
	// Delivered regardless of whether anyone has joined h into a set yet;
	// enqueueEvent records the pending event either way, per spec §4.1.
	s.enqueueEvent(h, Event{Code: EventSubtask, Index: h, Payload: EncodePayload(StatusCompleted, 0)})
	return nil
}

// stepStackful drives a stackful task's goroutine: spawns it on first
// entry (or resumes it after a prior park), then loops on whatever
// suspension requests it sends until it yields, parks on an empty
// waitable set, or completes. A Yield re-enqueues the task and returns
// control to the event loop; a Wait that finds an event and a Poll are
// answered in place, keeping the goroutine running.
func (s *Store) stepStackful(h Handle, t *Task) error {
	switch {
	case !t.started:
		t.started = true
		t.state = TaskStarted
		go func() {
			value, err := t.stackfulEntry(&Waiter{t: t})
			t.toLoop <- stackfulMsg{kind: msgDone, result: value, err: err}
		}()
	case t.joinedSet != 0:
		// Resuming from a real park: the set that woke us may have
		// accumulated more than the one event that triggered the
		// wake-up, so re-consult it now rather than replaying a stale
		// snapshot taken at wake time.
		set := t.joinedSet
		t.joinedSet = 0
		s.unpark(set)
		ev, _, err := s.wait(set)
		if err != nil {
			return err
		}
		t.toTask <- resumeMsg{event: ev}
	default:
		// Resuming after a plain Yield: nothing to deliver.
		t.toTask <- resumeMsg{}
	}
	for {
		msg := <-t.toLoop
		switch msg.kind {
		case msgDone:
			return s.finishTask(h, t, msg.result, msg.err)
		case msgYield:
			s.admitOnSuspend(t.calleeInstance)
			s.enqueueReady(h)
			return nil
		case msgWait:
			ev, ok, err := s.wait(msg.set)
			if err != nil {
				return err
			}
			if !ok {
				t.joinedSet = msg.set
				s.parkOn(msg.set)
				s.admitOnSuspend(t.calleeInstance)
				return nil
			}
			t.toTask <- resumeMsg{event: ev}
		case msgPoll:
			ev, err := s.poll(msg.set)
			if err != nil {
				return err
			}
			t.toTask <- resumeMsg{event: ev}
		}
	}
}

func (s *Store) stepCallback(h Handle, t *Task) error {
	var code CallbackCode
	if !t.started {
		t.started = true
		t.state = TaskStarted
		code = t.callbackEntry()
	} else if t.joinedSet != 0 {
		// Resuming from a real park: re-consult the set rather than a
		// snapshot taken at wake time, same reasoning as stepStackful.
		set := t.joinedSet
		t.joinedSet = 0
		s.unpark(set)
		ev, _, err := s.wait(set)
		if err != nil {
			return err
		}
		code = t.callback(ev.Code, ev.Index, ev.Payload)
	} else {
		ev := t.pendingCallbackEvent
		code = t.callback(ev.Code, ev.Index, ev.Payload)
	}
	tag, set := decodeCallbackCode(code)
	switch tag {
	case CallbackExit:
		return s.finishTask(h, t, nil, nil)
	case CallbackYield:
		t.pendingCallbackEvent = Event{Code: EventNone}
		s.admitOnSuspend(t.calleeInstance)
		s.enqueueReady(h)
		return nil
	case callbackWaitTag:
		ev, ok, err := s.wait(set)
		if err != nil {
			return err
		}
		if ok {
			t.pendingCallbackEvent = ev
			s.enqueueReady(h)
			return nil
		}
		t.joinedSet = set
		s.parkOn(set)
		s.admitOnSuspend(t.calleeInstance)
		return nil
	case callbackPollTag:
		ev, err := s.poll(set)
		if err != nil {
			return err
		}
		t.pendingCallbackEvent = ev
		s.enqueueReady(h)
		return nil
	}
	return newTrapf(TrapMisuse, "callback returned unrecognised code %d", code)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
