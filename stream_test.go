package asyncsched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamRendezvousTransfer(t *testing.T) {
	// Scenario 1: producer writes 8 bytes, consumer reads with capacity
	// 4 then 4; both reads return COMPLETED with count=4.
	s := NewStore()
	readable, writable := s.StreamNew(byteCodec)

	writerMem := newFakeMemory(64)
	writerMem.WriteBytes(0, []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef})

	payload, blocked, err := s.StreamWrite(writable, writerMem, 0, 8)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, BlockedStatus, payload)

	readerMem := newFakeMemory(64)
	payload, blocked, err = s.StreamRead(readable, readerMem, 0, 4)
	require.NoError(t, err)
	require.False(t, blocked)
	status, count := DecodePayload(payload)
	require.Equal(t, StatusCompleted, status)
	require.EqualValues(t, 4, count)
	got, _ := readerMem.ReadBytes(0, 4)
	require.Equal(t, []byte{0x01, 0x23, 0x45, 0x67}, got)

	payload, blocked, err = s.StreamRead(readable, readerMem, 4, 4)
	require.NoError(t, err)
	require.False(t, blocked)
	status, count = DecodePayload(payload)
	require.Equal(t, StatusCompleted, status)
	require.EqualValues(t, 4, count)
	got, _ = readerMem.ReadBytes(4, 4)
	require.Equal(t, []byte{0x89, 0xab, 0xcd, 0xef}, got)
}

func TestStreamPartialReadThenCancel(t *testing.T) {
	// Scenario 2: consumer blocks on a cap=100 read; producer writes 4
	// bytes and leaves pending; consumer cancels and observes
	// CANCELLED with count=4.
	s := NewStore()
	readable, writable := s.StreamNew(byteCodec)

	readerMem := newFakeMemory(256)
	payload, blocked, err := s.StreamRead(readable, readerMem, 0, 100)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, BlockedStatus, payload)

	writerMem := newFakeMemory(64)
	writerMem.WriteBytes(0, []byte{0xab, 0xcd, 0xef, 0x10})
	payload, blocked, err = s.StreamWrite(writable, writerMem, 0, 4)
	require.NoError(t, err)
	require.False(t, blocked)
	status, count := DecodePayload(payload)
	require.Equal(t, StatusCompleted, status)
	require.EqualValues(t, 4, count)

	payload, err = s.StreamCancelRead(readable)
	require.NoError(t, err)
	require.EqualValues(t, 0x42, payload)
	got, _ := readerMem.ReadBytes(0, 4)
	require.Equal(t, []byte{0xab, 0xcd, 0xef, 0x10}, got)
}

func TestStreamZeroLengthCompletesEagerly(t *testing.T) {
	s := NewStore()
	readable, writable := s.StreamNew(byteCodec)
	mem := newFakeMemory(8)

	payload, blocked, err := s.StreamWrite(writable, mem, 0, 0)
	require.NoError(t, err)
	require.False(t, blocked)
	status, count := DecodePayload(payload)
	require.Equal(t, StatusCompleted, status)
	require.EqualValues(t, 0, count)

	payload, blocked, err = s.StreamRead(readable, mem, 0, 0)
	require.NoError(t, err)
	require.False(t, blocked)
	status, count = DecodePayload(payload)
	require.Equal(t, StatusCompleted, status)
	require.EqualValues(t, 0, count)
}

func TestStreamDoubleReadTraps(t *testing.T) {
	s := NewStore()
	readable, _ := s.StreamNew(byteCodec)
	mem := newFakeMemory(8)
	_, _, err := s.StreamRead(readable, mem, 0, 4)
	require.NoError(t, err)
	_, _, err = s.StreamRead(readable, mem, 0, 4)
	var trap *Trap
	require.ErrorAs(t, err, &trap)
	require.Equal(t, TrapMisuse, trap.Kind)
	require.Equal(t, msgStreamDoubleRead, trap.Message)
}

func TestStreamReadAfterWriterDroppedThenTraps(t *testing.T) {
	s := NewStore()
	readable, writable := s.StreamNew(byteCodec)
	require.NoError(t, s.StreamDropWritable(writable))

	mem := newFakeMemory(8)
	payload, blocked, err := s.StreamRead(readable, mem, 0, 4)
	require.NoError(t, err)
	require.False(t, blocked)
	status, _ := DecodePayload(payload)
	require.Equal(t, StatusDropped, status)

	_, _, err = s.StreamRead(readable, mem, 0, 4)
	var trap *Trap
	require.ErrorAs(t, err, &trap)
	require.Equal(t, msgStreamReadAfterDrop, trap.Message)
}

func TestStreamDropWithPendingOpTraps(t *testing.T) {
	s := NewStore()
	readable, _ := s.StreamNew(byteCodec)
	mem := newFakeMemory(8)
	_, _, err := s.StreamRead(readable, mem, 0, 4)
	require.NoError(t, err)

	err = s.StreamDropReadable(readable)
	var trap *Trap
	require.ErrorAs(t, err, &trap)
	require.Equal(t, msgDropStreamWithPendingOp, trap.Message)
}

func TestFutureSingleShotTrap(t *testing.T) {
	// Scenario 4: future.read completes eagerly with a value; second
	// future.read traps.
	s := NewStore()
	readable, writable := s.FutureNew(byteCodec)

	writerMem := newFakeMemory(8)
	writerMem.WriteBytes(0, []byte{0x42})
	_, blocked, err := s.FutureWrite(writable, writerMem, 0)
	require.NoError(t, err)
	require.True(t, blocked)

	readerMem := newFakeMemory(8)
	payload, blocked, err := s.FutureRead(readable, readerMem, 0)
	require.NoError(t, err)
	require.False(t, blocked)
	status, count := DecodePayload(payload)
	require.Equal(t, StatusCompleted, status)
	require.EqualValues(t, 1, count)

	_, _, err = s.FutureRead(readable, readerMem, 0)
	var trap *Trap
	require.ErrorAs(t, err, &trap)
	require.Equal(t, msgFutureDoubleRead, trap.Message)
}

func TestFutureDropWritableBeforeValueTraps(t *testing.T) {
	s := NewStore()
	_, writable := s.FutureNew(byteCodec)
	err := s.FutureDropWritable(writable)
	var trap *Trap
	require.ErrorAs(t, err, &trap)
	require.Equal(t, msgDropWritableFutureEarly, trap.Message)
}

func TestFutureDropWritableAfterReaderCancelledAllowed(t *testing.T) {
	s := NewStore()
	readable, writable := s.FutureNew(byteCodec)
	mem := newFakeMemory(8)
	_, blocked, err := s.FutureRead(readable, mem, 0)
	require.NoError(t, err)
	require.True(t, blocked)
	_, err = s.FutureCancelRead(readable)
	require.NoError(t, err)
	require.NoError(t, s.FutureDropReadable(readable))
	require.NoError(t, s.FutureDropWritable(writable))
}
