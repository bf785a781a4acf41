package asyncsched

// fused.go implements the lowering x lifting adapter matrix from spec
// §4.4: a caller's lowering convention (sync or async) paired with a
// callee's lifting convention (sync, async-stackful, async-callback).
// Each adapter collapses straight into the scheduler's normal task
// admission path; there is no separate buffering stage, matching "the
// scheduler constructs a fused adapter that collapses argument
// lifting/lowering into in-place copies... while preserving all status
// and trap semantics."
//
// spec.md states nine combinations exist while its own set notation
// ({sync-lower, async-lower} x {sync-lift, async-stackful-lift,
// async-callback-lift}) multiplies out to six; DESIGN.md records this
// as an inherited inconsistency and implements the six the set
// notation actually names.

// AsyncCallSync performs an async-lowered call into a sync-lifted
// callee: the composite call status is returned immediately, and the
// task itself runs to completion the moment the event loop reaches it
// (sync-lifted tasks never suspend).
func (s *Store) AsyncCallSync(instance InstanceID, caller Handle, entry SyncEntry) uint64 {
	h := s.StartSyncTask(instance, caller, entry)
	return s.initialCallStatus(instance, h)
}

// AsyncCallStackful performs an async-lowered call into an
// async-stackful-lifted callee.
func (s *Store) AsyncCallStackful(instance InstanceID, caller Handle, entry StackfulEntry) uint64 {
	h := s.StartStackfulTask(instance, caller, entry)
	return s.initialCallStatus(instance, h)
}

// AsyncCallCallback performs an async-lowered call into an
// async-callback-lifted callee.
func (s *Store) AsyncCallCallback(instance InstanceID, caller Handle, entry CallbackEntry, callback Callback) uint64 {
	h := s.StartCallbackTask(instance, caller, entry, callback)
	return s.initialCallStatus(instance, h)
}

func (s *Store) initialCallStatus(instance InstanceID, h Handle) uint64 {
	if s.backpressure[instance] {
		return EncodeCallStatus(CallStarting, h)
	}
	return EncodeCallStatus(CallStarted, h)
}

// SyncCallSync performs a sync-lowered call into a sync-lifted callee.
// The callee is admitted as a task and the ready queue is drained in
// FIFO order until it returns, so tasks already ahead of it in the
// queue run first.
func (s *Store) SyncCallSync(instance InstanceID, caller Handle, entry SyncEntry) ([]byte, error) {
	h := s.StartSyncTask(instance, caller, entry)
	return s.drainUntilTerminal(h)
}

// SyncCallStackful performs a sync-lowered call into an
// async-stackful-lifted callee: the caller's own continuation is
// blocked until the callee resolves, implemented by driving the event
// loop inline until that one task reaches a terminal state.
func (s *Store) SyncCallStackful(instance InstanceID, caller Handle, entry StackfulEntry) ([]byte, error) {
	h := s.StartStackfulTask(instance, caller, entry)
	return s.drainUntilTerminal(h)
}

// SyncCallCallback performs a sync-lowered call into an
// async-callback-lifted callee.
func (s *Store) SyncCallCallback(instance InstanceID, caller Handle, entry CallbackEntry, callback Callback) ([]byte, error) {
	h := s.StartCallbackTask(instance, caller, entry, callback)
	return s.drainUntilTerminal(h)
}

// drainUntilTerminal runs the scheduler's normal ready-queue dispatch,
// scoped to stop as soon as target reaches RETURNED or CANCELLED,
// rather than waiting for every task in the Store to finish. Used only
// for sync-lowered calls, where the caller has no other way to make
// progress while blocked.
func (s *Store) drainUntilTerminal(target Handle) ([]byte, error) {
	for {
		if value, err, ok := s.TaskResult(target); ok {
			return value, err
		}
		h, ok := s.popReady()
		if !ok {
			if err := s.onDeadlock(); err != nil {
				return nil, err
			}
			return nil, nil
		}
		if err := s.step(h); err != nil {
			s.teardown(err)
			return nil, err
		}
	}
}
