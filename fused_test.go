package asyncsched

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAsyncCallSyncReturnsImmediateStatus(t *testing.T) {
	s := NewStore()
	word := s.AsyncCallSync(1, 0, func() ([]byte, error) { return []byte("x"), nil })
	status, _ := DecodeCallStatus(word)
	require.Equal(t, CallStarted, status)
	require.NoError(t, s.Run())
}

func TestAsyncCallRespectsBackpressure(t *testing.T) {
	s := NewStore()
	const instance InstanceID = 1
	s.BackpressureSet(instance, true)
	word := s.AsyncCallStackful(instance, 0, func(w *Waiter) ([]byte, error) { return nil, nil })
	status, _ := DecodeCallStatus(word)
	require.Equal(t, CallStarting, status)
}

func TestAsyncCallCallbackAdmitsTask(t *testing.T) {
	s := NewStore()
	word := s.AsyncCallCallback(1, 0, func() CallbackCode { return CallbackExit }, nil)
	status, h := DecodeCallStatus(word)
	require.Equal(t, CallStarted, status)
	require.NotZero(t, h)
	require.NoError(t, s.Run())
}

func TestSyncCallSyncReturnsValue(t *testing.T) {
	s := NewStore()
	value, err := s.SyncCallSync(1, 0, func() ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), value)
}

func TestSyncCallStackfulDrainsSuspendedCallee(t *testing.T) {
	// The callee yields twice before returning; the caller's
	// SyncCallStackful must drive the loop through both suspensions
	// without the caller itself being a scheduled task.
	s := NewStore()
	yields := 0
	value, err := s.SyncCallStackful(1, 0, func(w *Waiter) ([]byte, error) {
		for yields < 2 {
			yields++
			w.Yield()
		}
		return []byte("done"), nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte("done"), value)
	require.Equal(t, 2, yields)
}

func TestSyncCallCallbackDrainsUntilExit(t *testing.T) {
	s := NewStore()
	set := s.NewWaitableSet()
	other := s.StartSyncTask(2, 0, func() ([]byte, error) { return []byte("signal"), nil })
	require.NoError(t, s.Join(other, set))

	value, err := s.SyncCallCallback(1, 0, func() CallbackCode {
		return EncodeCallbackWait(set)
	}, func(code EventCode, index Handle, payload uint32) CallbackCode {
		require.Equal(t, EventSubtask, code)
		return CallbackExit
	})
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestSyncCallSyncPropagatesCalleeError(t *testing.T) {
	s := NewStore()
	boom := errors.New("boom")
	_, err := s.SyncCallSync(1, 0, func() ([]byte, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
}
