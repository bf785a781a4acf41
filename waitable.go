package asyncsched

import "github.com/bytecodealliance/wasmtime-sub013/internal/arena"

// WaitableSet is a set of waitable handles; supports atomic "wait until
// non-empty event" and "poll" (spec §3, §4.1). A waitable belongs to at
// most one set at a time.
type WaitableSet struct {
	members map[Handle]struct{}
	// readyQueue holds members with a pending event, in the order they
	// became ready, so waitable-set.wait observes events in enqueue
	// order (spec §5).
	readyQueue []Handle
	// waiters counts tasks currently parked on this set via wait;
	// waitable-set.drop traps while this is non-zero.
	waiters int
}

func newWaitableSet() *WaitableSet {
	return &WaitableSet{members: make(map[Handle]struct{})}
}

// NewWaitableSet implements the `waitable-set.new` built-in.
func (s *Store) NewWaitableSet() Handle {
	ws := newWaitableSet()
	idx := s.sets.Insert(ws)
	h := encodeHandle(KindWaitableSet, idx)
	s.recordCreation(h)
	return h
}

// DropWaitableSet implements `waitable-set.drop`. Traps if any task is
// currently waiting on set, per spec §4.1's invariant.
func (s *Store) DropWaitableSet(set Handle) error {
	if err := checkKind(set, KindWaitableSet); err != nil {
		return err
	}
	ws, ok := s.sets.Get(set.index())
	if !ok {
		return newTrap(TrapMisuse, msgDoubleDrop)
	}
	if ws.waiters > 0 {
		return newTrap(TrapMisuse, msgDropNonEmptyWaitableSet)
	}
	for member := range ws.members {
		delete(s.waitableSetOf, member)
	}
	s.sets.Remove(set.index())
	return nil
}

// Join implements `waitable.join(waitable, set)`: moves waitable into
// set, or detaches it from its current set if set is zero. Fails if
// waitable is already joined to a *different* set without first
// detaching (spec §4.1).
func (s *Store) Join(waitable, set Handle) error {
	cur, joined := s.waitableSetOf[waitable]
	if set == 0 {
		if joined {
			s.detach(waitable, cur)
		}
		return nil
	}
	if err := checkKind(set, KindWaitableSet); err != nil {
		return err
	}
	ws, ok := s.sets.Get(set.index())
	if !ok {
		return newTrap(TrapMisuse, msgCrossStoreHandle)
	}
	if joined && cur != set {
		return newTrap(TrapMisuse, msgWaitableAlreadyJoined)
	}
	if joined {
		return nil // already joined to this exact set
	}
	ws.members[waitable] = struct{}{}
	s.waitableSetOf[waitable] = set
	if ev, pending := s.pendingEvent[waitable]; pending {
		s.markReady(set, waitable, ev)
	}
	return nil
}

// detach removes waitable from set's membership and bookkeeping,
// without freeing any pending event for it.
func (s *Store) detach(waitable, set Handle) {
	delete(s.waitableSetOf, waitable)
	if ws, ok := s.sets.Get(set.index()); ok {
		delete(ws.members, waitable)
		ws.readyQueue = removeHandle(ws.readyQueue, waitable)
	}
}

// dropWaitable removes waitable from whatever set it belongs to (if
// any) and clears any pending event for it, per the resolution of the
// "does poll observe a dropped waitable's event" open question: no,
// dropping clears the event before the set is next consulted.
func (s *Store) dropWaitable(waitable Handle) {
	if set, ok := s.waitableSetOf[waitable]; ok {
		s.detach(waitable, set)
	}
	delete(s.pendingEvent, waitable)
}

// enqueueEvent marks waitable ready with a pending event; if joined to
// a set, marks the set ready and wakes any task waiting on it.
func (s *Store) enqueueEvent(waitable Handle, ev Event) {
	s.pendingEvent[waitable] = ev
	if set, ok := s.waitableSetOf[waitable]; ok {
		s.markReady(set, waitable, ev)
	}
}

// deliverDirect posts ev for waitable directly into set's ready queue,
// independent of waitable.join/waitableSetOf. Used for TASK_CANCELLED,
// which must reach whatever set the callee is currently parked in via
// Wait, rather than whatever set its caller separately joined it to for
// observing its eventual SUBTASK completion event.
func (s *Store) deliverDirect(set, waitable Handle, ev Event) {
	ws, ok := s.sets.Get(set.index())
	if !ok {
		return
	}
	ws.members[waitable] = struct{}{}
	s.pendingEvent[waitable] = ev
	s.markReady(set, waitable, ev)
}

// markReady appends waitable to set's ready queue (if not already
// present) and wakes any task parked on the set.
func (s *Store) markReady(set, waitable Handle, _ Event) {
	ws, ok := s.sets.Get(set.index())
	if !ok {
		return
	}
	for _, h := range ws.readyQueue {
		if h == waitable {
			return
		}
	}
	ws.readyQueue = append(ws.readyQueue, waitable)
	s.wakeWaitersOn(set)
}

// wakeWaitersOn moves every task parked on set back onto the ready
// queue. t.joinedSet is left set so the resuming step can re-consult
// the set for the actual Event rather than replay a stale snapshot.
func (s *Store) wakeWaitersOn(set Handle) {
	s.tasks.Each(func(idx arena.Index, t *Task) {
		h := encodeHandle(KindTask, idx)
		if t.joinedSet == set && t.state == TaskStarted {
			s.enqueueReady(h)
		}
	})
}

// wait implements the blocking half of `waitable-set.wait`: pops the
// next ready member's event, or reports empty so the caller can
// suspend.
func (s *Store) wait(set Handle) (Event, bool, error) {
	if err := checkKind(set, KindWaitableSet); err != nil {
		return Event{}, false, err
	}
	ws, ok := s.sets.Get(set.index())
	if !ok {
		return Event{}, false, newTrap(TrapMisuse, msgCrossStoreHandle)
	}
	if len(ws.readyQueue) == 0 {
		return Event{}, false, nil
	}
	w := ws.readyQueue[0]
	ws.readyQueue = ws.readyQueue[1:]
	if s.opts.strictEventFIFO {
		if _, stillMember := ws.members[w]; !stillMember {
			panic("asyncsched: ready queue held a waitable no longer a member of its set")
		}
	}
	ev, ok := s.pendingEvent[w]
	if !ok {
		// Waitable was dropped between becoming ready and being
		// consulted; its event no longer exists (open-question
		// resolution: dropping clears pending events). Skip it.
		return s.wait(set)
	}
	delete(s.pendingEvent, w)
	return ev, true, nil
}

// poll implements `waitable-set.poll`: identical to wait but never
// blocks; returns EventNone if nothing is pending.
func (s *Store) poll(set Handle) (Event, error) {
	ev, ok, err := s.wait(set)
	if err != nil {
		return Event{}, err
	}
	if !ok {
		return Event{Code: EventNone}, nil
	}
	return ev, nil
}

// parkOn records that a task has suspended waiting on set, so
// waitable-set.drop traps until the corresponding unpark.
func (s *Store) parkOn(set Handle) {
	if ws, ok := s.sets.Get(set.index()); ok {
		ws.waiters++
	}
}

// unpark reverses parkOn once the parked task has been handed its
// event (or the set it was parked on no longer exists).
func (s *Store) unpark(set Handle) {
	if ws, ok := s.sets.Get(set.index()); ok && ws.waiters > 0 {
		ws.waiters--
	}
}

func removeHandle(s []Handle, h Handle) []Handle {
	for i, v := range s {
		if v == h {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
