package asyncsched

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyncTaskRunsToCompletion(t *testing.T) {
	s := NewStore()
	ran := false
	h := s.StartSyncTask(1, 0, func() ([]byte, error) {
		ran = true
		return []byte("ok"), nil
	})
	require.NoError(t, s.Run())
	require.True(t, ran)
	value, err, ok := s.TaskResult(h)
	require.True(t, ok)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), value)
	state, err := s.State(h)
	require.NoError(t, err)
	require.Equal(t, TaskReturned, state)
}

func TestStackfulYieldThenReturn(t *testing.T) {
	s := NewStore()
	yields := 0
	h := s.StartStackfulTask(1, 0, func(w *Waiter) ([]byte, error) {
		for yields < 3 {
			yields++
			w.Yield()
		}
		return []byte("done"), nil
	})
	require.NoError(t, s.Run())
	require.Equal(t, 3, yields)
	value, err, ok := s.TaskResult(h)
	require.True(t, ok)
	require.NoError(t, err)
	require.Equal(t, []byte("done"), value)
}

func TestStackfulWaitOnStreamEvent(t *testing.T) {
	s := NewStore()
	readable, writable := s.StreamNew(byteCodec)
	set := s.NewWaitableSet()
	require.NoError(t, s.Join(readable, set))

	readerMem := newFakeMemory(8)
	var gotStatus Status
	var gotCount uint32
	s.StartStackfulTask(1, 0, func(w *Waiter) ([]byte, error) {
		blockedPayload, blocked, err := s.StreamRead(readable, readerMem, 0, 1)
		if err != nil {
			return nil, err
		}
		if !blocked {
			gotStatus, gotCount = DecodePayload(blockedPayload)
			return nil, nil
		}
		ev := w.Wait(set)
		gotStatus, gotCount = DecodePayload(ev.Payload)
		return nil, nil
	})

	s.StartSyncTask(2, 0, func() ([]byte, error) {
		writerMem := newFakeMemory(8)
		writerMem.WriteBytes(0, []byte{0x7a})
		s.StreamWrite(writable, writerMem, 0, 1)
		return nil, nil
	})

	require.NoError(t, s.Run())
	require.Equal(t, StatusCompleted, gotStatus)
	require.EqualValues(t, 1, gotCount)
}

func TestCallbackTaskExitsImmediately(t *testing.T) {
	s := NewStore()
	h := s.StartCallbackTask(1, 0, func() CallbackCode {
		return CallbackExit
	}, nil)
	require.NoError(t, s.Run())
	state, err := s.State(h)
	require.NoError(t, err)
	require.Equal(t, TaskReturned, state)
}

func TestCallbackTaskWaitThenExit(t *testing.T) {
	s := NewStore()
	set := s.NewWaitableSet()
	resumed := false
	h := s.StartCallbackTask(1, 0, func() CallbackCode {
		return EncodeCallbackWait(set)
	}, func(code EventCode, index Handle, payload uint32) CallbackCode {
		resumed = true
		require.Equal(t, EventSubtask, code)
		return CallbackExit
	})

	other := s.StartSyncTask(2, 0, func() ([]byte, error) { return nil, nil })
	require.NoError(t, s.Join(other, set))

	require.NoError(t, s.Run())
	require.True(t, resumed)
	state, err := s.State(h)
	require.NoError(t, err)
	require.Equal(t, TaskReturned, state)
}

func TestDeadlockOnEmptyWaitableSet(t *testing.T) {
	// Scenario 3: a callback task waits on an empty set with no other
	// task able to ever wake it.
	s := NewStore()
	s.StartCallbackTask(1, 0, func() CallbackCode {
		set := s.NewWaitableSet()
		return EncodeCallbackWait(set)
	}, func(EventCode, Handle, uint32) CallbackCode {
		t.Fatal("callback should never be invoked")
		return CallbackExit
	})

	err := s.Run()
	var trap *Trap
	require.ErrorAs(t, err, &trap)
	require.Equal(t, TrapLiveness, trap.Kind)
	require.Equal(t, msgDeadlock, trap.Message)
}

func TestSubtaskCancelBeforeReturn(t *testing.T) {
	// Scenario 5: T was waiting on an empty set; receives TASK_CANCELLED,
	// calls task.cancel, reaches CANCELLED. Parent's cancel eventually
	// reports CANCELLED_BEFORE_RETURNED, and subtask.drop succeeds
	// afterward.
	s := NewStore()
	set := s.NewWaitableSet()
	var child Handle
	child = s.StartStackfulTask(1, 0, func(w *Waiter) ([]byte, error) {
		ev := w.Wait(set)
		require.Equal(t, EventTaskCancelled, ev.Code)
		require.NoError(t, s.TaskCancel(child))
		return nil, nil
	})

	// Drive the child to the point where it's parked on the empty set
	// before requesting cancellation, so the event has somewhere to land.
	h, ok := s.popReady()
	require.True(t, ok)
	require.NoError(t, s.step(h))

	status, err := s.SubtaskCancel(child)
	require.NoError(t, err)
	require.Equal(t, CallBlocked, status)

	require.NoError(t, s.Run())

	status, err = s.SubtaskCancel(child)
	require.NoError(t, err)
	require.Equal(t, CallCancelledBeforeReturned, status)

	state, err := s.State(child)
	require.NoError(t, err)
	require.Equal(t, TaskCancelled, state)

	require.NoError(t, s.SubtaskDrop(child))
}

func TestBackpressureStarvationDeadlock(t *testing.T) {
	// Scenario 6: A enables backpressure; B's async call to A is
	// admitted into STARTING and never runs; B joins and waits forever.
	s := NewStore()
	const instanceA InstanceID = 1
	const instanceB InstanceID = 2
	s.BackpressureSet(instanceA, true)

	s.StartStackfulTask(instanceB, 0, func(w *Waiter) ([]byte, error) {
		sub := s.StartSyncTask(instanceA, w.t.id, func() ([]byte, error) { return nil, nil })
		set := s.NewWaitableSet()
		if err := s.Join(sub, set); err != nil {
			return nil, err
		}
		w.Wait(set)
		return nil, nil
	})

	err := s.Run()
	var trap *Trap
	require.ErrorAs(t, err, &trap)
	require.Equal(t, TrapLiveness, trap.Kind)
}

func TestBackpressureAdmitsOnClear(t *testing.T) {
	s := NewStore()
	const instance InstanceID = 1
	s.BackpressureSet(instance, true)

	ran := false
	h := s.StartSyncTask(instance, 0, func() ([]byte, error) {
		ran = true
		return nil, nil
	})
	state, err := s.State(h)
	require.NoError(t, err)
	require.Equal(t, TaskStarting, state)

	s.BackpressureSet(instance, false)
	require.NoError(t, s.Run())
	require.True(t, ran)
}

func TestTaskReturnWithErrorDeliversToCaller(t *testing.T) {
	s := NewStore()
	boom := errors.New("boom")
	h := s.StartSyncTask(1, 0, func() ([]byte, error) {
		return nil, boom
	})
	require.NoError(t, s.Run())
	_, err, ok := s.TaskResult(h)
	require.True(t, ok)
	require.ErrorIs(t, err, boom)
}

func TestSubtaskDropBeforeResolutionTraps(t *testing.T) {
	s := NewStore()
	h := s.StartStackfulTask(1, 0, func(w *Waiter) ([]byte, error) {
		w.Yield()
		return nil, nil
	})
	err := s.SubtaskDrop(h)
	var trap *Trap
	require.ErrorAs(t, err, &trap)
	require.Equal(t, msgDropUnresolvedSubtask, trap.Message)
}
