package asyncsched

import "fmt"

// TaskState is one of the four states in a [Task]'s lifecycle (spec §3,
// §4.3). Transitions are monotonic: STARTING -> STARTED -> {RETURNED,
// CANCELLED}.
type TaskState int

const (
	TaskStarting TaskState = iota
	TaskStarted
	TaskReturned
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskStarting:
		return "STARTING"
	case TaskStarted:
		return "STARTED"
	case TaskReturned:
		return "RETURNED"
	case TaskCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// TaskKind selects which of the three lifting strategies a [Task] uses
// to run guest code (spec §4.3).
type TaskKind int

const (
	SyncLifted TaskKind = iota
	AsyncStackfulLifted
	AsyncCallbackLifted
)

// SyncEntry is a sync-lifted task's body: it runs to completion on
// first entry and never observes events.
type SyncEntry func() ([]byte, error)

// Waiter is the suspension interface given to a stackful-lifted task's
// entry function. Each method parks the task-owned goroutine and hands
// control back to the event loop until the loop resumes it.
type Waiter struct {
	t *Task
}

// Yield implements `task.yield`: a cooperative suspension point with no
// associated waitable set.
func (w *Waiter) Yield() {
	w.t.toLoop <- stackfulMsg{kind: msgYield}
	<-w.t.toTask
}

// Wait implements the blocking form of `waitable-set.wait` from within
// a stackful task: suspends until set has a ready member, then returns
// its Event.
func (w *Waiter) Wait(set Handle) Event {
	w.t.toLoop <- stackfulMsg{kind: msgWait, set: set}
	return (<-w.t.toTask).event
}

// Poll implements `waitable-set.poll` from within a stackful task:
// never suspends past the current loop tick.
func (w *Waiter) Poll(set Handle) (Event, bool) {
	w.t.toLoop <- stackfulMsg{kind: msgPoll, set: set}
	r := <-w.t.toTask
	return r.event, r.event.Code != EventNone
}

// CancelRequested reports whether the caller has asked this task to
// cancel (spec §4.3, §5). The task's own code decides when to honor it
// by returning early and calling Store.TaskCancel.
func (w *Waiter) CancelRequested() bool {
	return w.t.cancelRequested
}

// StackfulEntry is an async-stackful-lifted task's body.
type StackfulEntry func(w *Waiter) ([]byte, error)

// CallbackEntry is a callback-lifted task's initial invocation.
type CallbackEntry func() CallbackCode

// Callback is invoked on every resumption of a callback-lifted task
// after its CallbackEntry, with the Event that woke it.
type Callback func(code EventCode, index Handle, payload uint32) CallbackCode

type stackfulMsgKind int

const (
	msgYield stackfulMsgKind = iota
	msgWait
	msgPoll
	msgDone
)

// stackfulMsg flows goroutine -> loop (a suspension request or
// completion); a resumeMsg flows loop -> goroutine, carrying the Event
// for Wait/Poll and zero-valued after a Yield.
type stackfulMsg struct {
	kind   stackfulMsgKind
	set    Handle
	result []byte
	err    error
}

type resumeMsg struct {
	event Event
}

// Task represents one in-flight call (spec §3).
type Task struct {
	id             Handle
	caller         Handle // zero if none
	calleeInstance InstanceID
	kind           TaskKind

	syncEntry     SyncEntry
	stackfulEntry StackfulEntry
	callbackEntry CallbackEntry
	callback      Callback

	state           TaskState
	joinedSet       Handle // zero: not parked; nonzero: parked on this set
	cancelRequested bool
	// ownedWaitables is cleaned on terminal transition (spec §3). Stream,
	// future, and error-context handles are created independently of any
	// one task (e.g. by host glue wiring two tasks together) and are
	// dropped explicitly by whichever side calls the matching `*.drop-*`
	// built-in, so nothing currently populates this; it exists so a
	// future per-task resource-binding built-in has somewhere to record
	// ownership without changing the cleanup path.
	ownedWaitables []Handle

	returnValue []byte
	returnErr   error

	// stackful goroutine handoff channels; nil for non-stackful tasks.
	toLoop chan stackfulMsg
	toTask chan resumeMsg

	// pendingCallbackEvent carries the Event a callback-lifted task was
	// woken with from stepCallback's wait/poll branch to its next
	// invocation of callback.
	pendingCallbackEvent Event

	started bool
}

// StartSyncTask creates a sync-lifted task for the given instance,
// gated by that instance's backpressure flag, and returns its Handle.
func (s *Store) StartSyncTask(instance InstanceID, caller Handle, entry SyncEntry) Handle {
	return s.startTask(instance, caller, &Task{kind: SyncLifted, syncEntry: entry})
}

// StartStackfulTask creates an async-stackful-lifted task.
func (s *Store) StartStackfulTask(instance InstanceID, caller Handle, entry StackfulEntry) Handle {
	return s.startTask(instance, caller, &Task{
		kind:          AsyncStackfulLifted,
		stackfulEntry: entry,
		toLoop:        make(chan stackfulMsg),
		toTask:        make(chan resumeMsg),
	})
}

// StartCallbackTask creates an async-callback-lifted task.
func (s *Store) StartCallbackTask(instance InstanceID, caller Handle, entry CallbackEntry, callback Callback) Handle {
	return s.startTask(instance, caller, &Task{
		kind:          AsyncCallbackLifted,
		callbackEntry: entry,
		callback:      callback,
	})
}

func (s *Store) startTask(instance InstanceID, caller Handle, t *Task) Handle {
	t.calleeInstance = instance
	t.caller = caller
	t.state = TaskStarting
	idx := s.tasks.Insert(t)
	h := encodeHandle(KindTask, idx)
	t.id = h
	s.recordCreation(h)
	if m := s.metrics(); m != nil {
		m.TasksCreated.Inc()
	}
	s.log.Debug("task created", map[string]string{"task": h.String(), "kind": fmt.Sprint(t.kind)})
	if s.backpressure[instance] {
		s.blockedStarting[instance] = append(s.blockedStarting[instance], h)
	} else {
		s.enqueueReady(h)
	}
	return h
}

// BackpressureSet implements `backpressure.set`: toggles admission for
// the calling task's instance. Clearing backpressure admits every
// blocked STARTING task for that instance, in FIFO order (spec §4.3).
func (s *Store) BackpressureSet(instance InstanceID, flag bool) {
	was := s.backpressure[instance]
	s.backpressure[instance] = flag
	if was && !flag {
		blocked := s.blockedStarting[instance]
		delete(s.blockedStarting, instance)
		for _, h := range blocked {
			s.enqueueReady(h)
		}
	}
}

// admitOnSuspend implements §4.3's second FIFO-admission trigger: the
// next blocked STARTING task for instance is admitted once any other
// task on that same instance reaches a suspension point, even while
// backpressure is still set, preventing a blocked queue from starving
// forever behind an unrelated task that never finishes.
func (s *Store) admitOnSuspend(instance InstanceID) {
	blocked := s.blockedStarting[instance]
	if len(blocked) == 0 {
		return
	}
	h := blocked[0]
	s.blockedStarting[instance] = blocked[1:]
	s.enqueueReady(h)
}

// task looks up h, requiring it to be a KindTask handle belonging to
// this Store.
func (s *Store) task(h Handle) (*Task, error) {
	if err := checkKind(h, KindTask); err != nil {
		return nil, err
	}
	t, ok := s.tasks.Get(h.index())
	if !ok {
		return nil, newTrap(TrapCrossStore, msgCrossStoreHandle)
	}
	return t, nil
}

// TaskReturn implements `task.return`: delivers results to the caller
// and transitions the task to RETURNED.
func (s *Store) TaskReturn(h Handle, value []byte, err error) error {
	t, e := s.task(h)
	if e != nil {
		return e
	}
	if t.state != TaskStarted {
		return newTrapf(TrapMisuse, "task.return called on task in state %s", t.state)
	}
	t.returnValue = value
	t.returnErr = err
	t.state = TaskReturned
	s.cleanupTask(t)
	if m := s.metrics(); m != nil {
		m.TasksReturned.Inc()
	}
	s.log.Debug("task returned", map[string]string{"task": h.String()})
	// task.return is itself a suspension point for callback-lifted tasks
	// (spec §5), so it also triggers FIFO admission for its instance.
	s.admitOnSuspend(t.calleeInstance)
	// Delivered regardless of whether anyone has joined h into a set yet;
	// enqueueEvent records the pending event either way, per spec §4.1.
	s.enqueueEvent(h, Event{Code: EventSubtask, Index: h, Payload: EncodePayload(StatusCompleted, 0)})
	return nil
}

// TaskCancel implements `task.cancel`: the callee side's confirmation
// of a pending cancellation request.
func (s *Store) TaskCancel(h Handle) error {
	t, err := s.task(h)
	if err != nil {
		return err
	}
	if !t.cancelRequested {
		return newTrap(TrapMisuse, "task.cancel called without a pending cancellation request")
	}
	if t.state != TaskStarted && t.state != TaskStarting {
		return newTrapf(TrapMisuse, "task.cancel called on task in state %s", t.state)
	}
	t.state = TaskCancelled
	s.cleanupTask(t)
	if m := s.metrics(); m != nil {
		m.TasksCancelled.Inc()
	}
	s.log.Debug("task cancelled", map[string]string{"task": h.String()})
	// Delivered regardless of whether anyone has joined h into a set yet;
	// enqueueEvent records the pending event either way, per spec §4.1.
	s.enqueueEvent(h, Event{Code: EventSubtask, Index: h, Payload: EncodePayload(StatusCancelled, 0)})
	return nil
}

// cleanupTask releases every waitable the task owned, per the
// lifecycle table's "terminal state + drop" destruction rule.
func (s *Store) cleanupTask(t *Task) {
	if t.joinedSet != 0 {
		s.unpark(t.joinedSet)
		t.joinedSet = 0
	}
	for _, w := range t.ownedWaitables {
		s.dropWaitable(w)
	}
	t.ownedWaitables = nil
}

// SubtaskCancel implements `subtask.cancel` from the caller's side.
// Returns immediately with RETURNED or CANCELLED_BEFORE_RETURNED if the
// callee already reached a terminal state; otherwise posts a
// TASK_CANCELLED event into the callee's current wait set (if it is
// currently parked in one) and returns BLOCKED, with the eventual
// CANCELLED_BEFORE_RETURNED observed via a SUBTASK event or a later
// subtask.cancel call (spec §4.3).
func (s *Store) SubtaskCancel(h Handle) (CallStatus, error) {
	t, err := s.task(h)
	if err != nil {
		return 0, err
	}
	switch t.state {
	case TaskReturned:
		return CallReturned, nil
	case TaskCancelled:
		return CallCancelledBeforeReturned, nil
	}
	t.cancelRequested = true
	s.log.Debug("subtask cancel requested", map[string]string{"task": h.String()})
	// Cancellation is still cooperative: the callee confirms via
	// task.cancel on its own terms. But if it is currently parked in
	// Wait, the event is what lets it notice without polling
	// CancelRequested at some unrelated suspension point first.
	if t.joinedSet != 0 {
		s.deliverDirect(t.joinedSet, h, Event{Code: EventTaskCancelled, Index: h, Payload: EncodePayload(StatusCancelled, 0)})
	}
	return CallBlocked, nil
}

// SubtaskDrop implements `subtask.drop`: traps if the subtask has not
// reached a terminal state.
func (s *Store) SubtaskDrop(h Handle) error {
	t, err := s.task(h)
	if err != nil {
		return err
	}
	if t.state != TaskReturned && t.state != TaskCancelled {
		return newTrap(TrapMisuse, msgDropUnresolvedSubtask)
	}
	s.tasks.Remove(h.index())
	return nil
}

// TaskResult returns a terminal task's result. ok is false if the task
// has not yet reached a terminal state.
func (s *Store) TaskResult(h Handle) (value []byte, err error, ok bool) {
	t, terr := s.task(h)
	if terr != nil {
		return nil, terr, false
	}
	if t.state != TaskReturned && t.state != TaskCancelled {
		return nil, nil, false
	}
	return t.returnValue, t.returnErr, true
}

// State returns the task's current state.
func (s *Store) State(h Handle) (TaskState, error) {
	t, err := s.task(h)
	if err != nil {
		return 0, err
	}
	return t.state, nil
}
