package runner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	asyncsched "github.com/bytecodealliance/wasmtime-sub013"
	"github.com/bytecodealliance/wasmtime-sub013/runner"
)

func TestGroupRunsDisjointStoresConcurrently(t *testing.T) {
	ran := make([]bool, 3)
	stores := make([]*asyncsched.Store, 3)
	for i := range stores {
		i := i
		s := asyncsched.NewStore()
		s.StartSyncTask(1, 0, func() ([]byte, error) {
			ran[i] = true
			return nil, nil
		})
		stores[i] = s
	}

	g := runner.New(stores...)
	require.NoError(t, g.Run(context.Background()))
	for i, ok := range ran {
		require.Truef(t, ok, "store %d never ran its task", i)
	}
}

func TestGroupReturnsStoreTrap(t *testing.T) {
	// s1 deadlocks: a callback task waits on a set nothing will ever
	// mark ready. Run surfaces this as a *Trap, which the Group must
	// propagate even though s2 completes cleanly.
	s1 := asyncsched.NewStore()
	s1.StartCallbackTask(1, 0, func() asyncsched.CallbackCode {
		set := s1.NewWaitableSet()
		return asyncsched.EncodeCallbackWait(set)
	}, func(asyncsched.EventCode, asyncsched.Handle, uint32) asyncsched.CallbackCode {
		t.Fatal("callback should never run")
		return asyncsched.CallbackExit
	})

	s2 := asyncsched.NewStore()
	s2.StartSyncTask(1, 0, func() ([]byte, error) { return nil, nil })

	g := runner.New(s1, s2)
	err := g.Run(context.Background())
	require.Error(t, err)
	var trap *asyncsched.Trap
	require.ErrorAs(t, err, &trap)
	require.Equal(t, asyncsched.TrapLiveness, trap.Kind)
}
