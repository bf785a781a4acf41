package asyncsched

import "github.com/bytecodealliance/wasmtime-sub013/internal/codec"

// pendingIO records one parked stream/future read or write: a memory
// collaborator, the guest-side buffer's remaining capacity, and how
// many elements have already been transferred into/out of it across
// prior partial rendezvous on this same pending operation.
type pendingIO struct {
	mem    codec.Memory
	ptr    uint32
	n      uint32 // remaining capacity/offer
	filled uint32 // already transferred on this pending op
}

// streamEnd is the shared state of one stream or future pair; both its
// readable and writable Handles resolve to the same *streamEnd (spec
// §6). isFuture forces every transfer to exactly one element and adds
// the single-shot traps described in SPEC_FULL.md's Open Question
// resolution.
type streamEnd struct {
	isFuture bool
	codec    codec.Codec

	readable Handle
	writable Handle

	pendingRead  *pendingIO
	pendingWrite *pendingIO

	// readerDropped/writerDropped record that an end was dropped.
	// writerDropSeen/readerDropSeen record that the *other* end has
	// already been told DROPPED once for it, so a second read/write
	// after that traps instead of reporting DROPPED again.
	readerDropped, writerDropSeen bool
	writerDropped, readerDropSeen bool

	valueRead, valueWritten bool // futures only
}

func (s *Store) streamEndFor(h Handle, wantKind Kind) (*streamEnd, error) {
	if err := checkKind(h, wantKind); err != nil {
		return nil, err
	}
	var se *streamEnd
	var ok bool
	switch wantKind {
	case KindStreamReadable:
		se, ok = s.streamReadable.Get(h.index())
	case KindStreamWritable:
		se, ok = s.streamWritable.Get(h.index())
	case KindFutureReadable:
		se, ok = s.futureReadable.Get(h.index())
	case KindFutureWritable:
		se, ok = s.futureWritable.Get(h.index())
	}
	if !ok {
		return nil, newTrap(TrapCrossStore, msgCrossStoreHandle)
	}
	return se, nil
}

// StreamNew implements `stream.new<T>`: allocates a connected
// readable/writable pair sharing one element codec.
func (s *Store) StreamNew(elem codec.Codec) (readable, writable Handle) {
	return s.newPair(elem, false)
}

// FutureNew implements `future.new<T>`: a stream pair restricted to a
// single one-element transfer (spec §6, "the future variant is
// identical with cap == 1 and single-shot semantics").
func (s *Store) FutureNew(elem codec.Codec) (readable, writable Handle) {
	return s.newPair(elem, true)
}

func (s *Store) newPair(elem codec.Codec, isFuture bool) (readable, writable Handle) {
	se := &streamEnd{isFuture: isFuture, codec: elem}
	if isFuture {
		rIdx, wIdx := s.futureReadable.Insert(se), s.futureWritable.Insert(se)
		readable = encodeHandle(KindFutureReadable, rIdx)
		writable = encodeHandle(KindFutureWritable, wIdx)
	} else {
		rIdx, wIdx := s.streamReadable.Insert(se), s.streamWritable.Insert(se)
		readable = encodeHandle(KindStreamReadable, rIdx)
		writable = encodeHandle(KindStreamWritable, wIdx)
	}
	se.readable, se.writable = readable, writable
	s.recordCreation(readable)
	s.recordCreation(writable)
	return readable, writable
}

// StreamRead implements `stream.read`. If a write is already parked it
// rendezvous immediately and returns the transferred count with
// blocked == false; otherwise the read is parked on readable (itself a
// waitable) and blocked == true.
func (s *Store) StreamRead(readable Handle, mem codec.Memory, ptr, n uint32) (payload uint32, blocked bool, err error) {
	return s.streamRead(readable, KindStreamReadable, mem, ptr, n)
}

// FutureRead implements `future.read`: identical to StreamRead but n is
// pinned to 1 and a second read after success traps.
func (s *Store) FutureRead(readable Handle, mem codec.Memory, ptr uint32) (payload uint32, blocked bool, err error) {
	se, err := s.streamEndFor(readable, KindFutureReadable)
	if err != nil {
		return 0, false, err
	}
	if se.valueRead {
		return 0, false, newTrap(TrapMisuse, msgFutureDoubleRead)
	}
	return s.streamRead(readable, KindFutureReadable, mem, ptr, 1)
}

func (s *Store) streamRead(readable Handle, kind Kind, mem codec.Memory, ptr, n uint32) (payload uint32, blocked bool, err error) {
	se, err := s.streamEndFor(readable, kind)
	if err != nil {
		return 0, false, err
	}
	if se.pendingRead != nil {
		return 0, false, newTrap(TrapMisuse, msgStreamDoubleRead)
	}
	if n == 0 {
		// A zero-capacity read completes eagerly without rendezvous,
		// symmetric to the zero-length write rule (spec §4.2/§8).
		return EncodeAsyncStatus(StatusCompleted, 0), false, nil
	}
	if se.writerDropped {
		if se.writerDropSeen {
			return 0, false, newTrap(TrapMisuse, msgStreamReadAfterDrop)
		}
		se.writerDropSeen = true
		return EncodeAsyncStatus(StatusDropped, 0), false, nil
	}
	if se.pendingWrite != nil {
		w := se.pendingWrite
		count, xerr := transfer(se.codec, w.mem, w.ptr, w.n, mem, ptr, n)
		if xerr != nil {
			return 0, false, xerr
		}
		se.markTransfer()
		if count == w.n {
			se.pendingWrite = nil
			s.enqueueEvent(se.writable, Event{Code: eventWriteCode(kind), Index: se.writable, Payload: EncodeAsyncStatus(StatusCompleted, count)})
		} else {
			w.ptr += count * se.codec.Size()
			w.n -= count
			w.filled += count
		}
		if m := s.metrics(); m != nil {
			m.StreamTransfers.Inc()
		}
		return EncodeAsyncStatus(StatusCompleted, count), false, nil
	}
	se.pendingRead = &pendingIO{mem: mem, ptr: ptr, n: n}
	return BlockedStatus, true, nil
}

// SyncStreamRead implements `stream.read` from within a sync-lowered
// call. Unless [WithSyncStreamReads] is set, every call traps. When it
// is set, a read that rendezvous immediately succeeds normally, and a
// read that would block is cancelled and traps, since the calling task
// has nowhere to park it.
func (s *Store) SyncStreamRead(readable Handle, mem codec.Memory, ptr, n uint32) (uint32, error) {
	return s.syncRead(readable, KindStreamReadable, mem, ptr, n)
}

// SyncFutureRead implements `future.read` from within a sync-lowered
// call, symmetric to SyncStreamRead.
func (s *Store) SyncFutureRead(readable Handle, mem codec.Memory, ptr uint32) (uint32, error) {
	return s.syncRead(readable, KindFutureReadable, mem, ptr, 1)
}

func (s *Store) syncRead(readable Handle, kind Kind, mem codec.Memory, ptr, n uint32) (uint32, error) {
	if !s.opts.syncStreamReads {
		return 0, newTrap(TrapMisuse, msgSyncStreamReadsUnsupported)
	}
	payload, blocked, err := s.streamRead(readable, kind, mem, ptr, n)
	if err != nil {
		return 0, err
	}
	if blocked {
		if _, cerr := s.cancelRead(readable, kind); cerr != nil {
			return 0, cerr
		}
		return 0, newTrap(TrapMisuse, msgSyncStreamReadsUnsupported)
	}
	return payload, nil
}

// StreamWrite implements `stream.write`, symmetric to StreamRead.
func (s *Store) StreamWrite(writable Handle, mem codec.Memory, ptr, n uint32) (payload uint32, blocked bool, err error) {
	return s.streamWrite(writable, KindStreamWritable, mem, ptr, n)
}

// FutureWrite implements `future.write`: n pinned to 1, traps on a
// second write after success.
func (s *Store) FutureWrite(writable Handle, mem codec.Memory, ptr uint32) (payload uint32, blocked bool, err error) {
	se, err := s.streamEndFor(writable, KindFutureWritable)
	if err != nil {
		return 0, false, err
	}
	if se.valueWritten {
		return 0, false, newTrap(TrapMisuse, msgFutureDoubleWrite)
	}
	return s.streamWrite(writable, KindFutureWritable, mem, ptr, 1)
}

func (s *Store) streamWrite(writable Handle, kind Kind, mem codec.Memory, ptr, n uint32) (payload uint32, blocked bool, err error) {
	se, err := s.streamEndFor(writable, kind)
	if err != nil {
		return 0, false, err
	}
	if se.pendingWrite != nil {
		return 0, false, newTrap(TrapMisuse, msgStreamDoubleWrite)
	}
	if n == 0 {
		return EncodeAsyncStatus(StatusCompleted, 0), false, nil
	}
	if se.readerDropped {
		if se.readerDropSeen {
			return 0, false, newTrap(TrapMisuse, msgStreamWriteAfterDrop)
		}
		se.readerDropSeen = true
		return EncodeAsyncStatus(StatusDropped, 0), false, nil
	}
	if se.pendingRead != nil {
		r := se.pendingRead
		count, xerr := transfer(se.codec, mem, ptr, n, r.mem, r.ptr, r.n)
		if xerr != nil {
			return 0, false, xerr
		}
		se.markTransfer()
		if count == r.n {
			se.pendingRead = nil
			s.enqueueEvent(se.readable, Event{Code: eventReadCode(kind), Index: se.readable, Payload: EncodeAsyncStatus(StatusCompleted, count)})
		} else {
			r.ptr += count * se.codec.Size()
			r.n -= count
			r.filled += count
		}
		if m := s.metrics(); m != nil {
			m.StreamTransfers.Inc()
		}
		return EncodeAsyncStatus(StatusCompleted, count), false, nil
	}
	se.pendingWrite = &pendingIO{mem: mem, ptr: ptr, n: n}
	return BlockedStatus, true, nil
}

// markTransfer records a successful rendezvous on a future end: after
// this, both a further read and a further write trap (spec §3, "any
// further read, write, or lift of a done end traps").
func (se *streamEnd) markTransfer() {
	if !se.isFuture {
		return
	}
	se.valueRead = true
	se.valueWritten = true
}

func eventReadCode(kind Kind) EventCode {
	if kind == KindFutureWritable || kind == KindFutureReadable {
		return EventFutureRead
	}
	return EventStreamRead
}

func eventWriteCode(kind Kind) EventCode {
	if kind == KindFutureWritable || kind == KindFutureReadable {
		return EventFutureWrite
	}
	return EventStreamWrite
}

// transfer lifts up to min(writerN, readerN) elements out of the
// writer's memory and lowers them into the reader's, returning the
// count actually moved (spec §6's partial-transfer rule: the smaller
// side's request is always fully satisfied).
func transfer(c codec.Codec, writerMem codec.Memory, writerPtr, writerN uint32, readerMem codec.Memory, readerPtr, readerN uint32) (uint32, error) {
	n := writerN
	if readerN < n {
		n = readerN
	}
	if n == 0 {
		return 0, nil
	}
	values, err := c.Lift(writerMem, writerPtr, n)
	if err != nil {
		return 0, WrapError("stream transfer lift", err)
	}
	if _, err := c.Lower(readerMem, readerPtr, values); err != nil {
		return 0, WrapError("stream transfer lower", err)
	}
	return n, nil
}

// StreamCancelRead implements `stream.cancel-read`: abandons this end's
// own outstanding read and reports CANCELLED synchronously.
func (s *Store) StreamCancelRead(readable Handle) (uint32, error) {
	return s.cancelRead(readable, KindStreamReadable)
}

// FutureCancelRead implements `future.cancel-read`.
func (s *Store) FutureCancelRead(readable Handle) (uint32, error) {
	return s.cancelRead(readable, KindFutureReadable)
}

func (s *Store) cancelRead(readable Handle, kind Kind) (uint32, error) {
	se, err := s.streamEndFor(readable, kind)
	if err != nil {
		return 0, err
	}
	if se.pendingRead == nil {
		return 0, newTrap(TrapMisuse, msgNoPendingOperation)
	}
	filled := se.pendingRead.filled
	se.pendingRead = nil
	return EncodeAsyncStatus(StatusCancelled, filled), nil
}

// StreamCancelWrite implements `stream.cancel-write`.
func (s *Store) StreamCancelWrite(writable Handle) (uint32, error) {
	return s.cancelWrite(writable, KindStreamWritable)
}

// FutureCancelWrite implements `future.cancel-write`.
func (s *Store) FutureCancelWrite(writable Handle) (uint32, error) {
	return s.cancelWrite(writable, KindFutureWritable)
}

func (s *Store) cancelWrite(writable Handle, kind Kind) (uint32, error) {
	se, err := s.streamEndFor(writable, kind)
	if err != nil {
		return 0, err
	}
	if se.pendingWrite == nil {
		return 0, newTrap(TrapMisuse, msgNoPendingOperation)
	}
	filled := se.pendingWrite.filled
	se.pendingWrite = nil
	return EncodeAsyncStatus(StatusCancelled, filled), nil
}

// StreamDropReadable implements `stream.drop-readable`.
func (s *Store) StreamDropReadable(readable Handle) error {
	return s.dropReadable(readable, KindStreamReadable)
}

// FutureDropReadable implements `future.drop-readable`.
func (s *Store) FutureDropReadable(readable Handle) error {
	return s.dropReadable(readable, KindFutureReadable)
}

func (s *Store) dropReadable(readable Handle, kind Kind) error {
	se, err := s.streamEndFor(readable, kind)
	if err != nil {
		return err
	}
	if se.pendingRead != nil {
		return newTrap(TrapMisuse, msgDropStreamWithPendingOp)
	}
	se.readerDropped = true
	s.dropWaitable(readable)
	if se.pendingWrite != nil {
		filled := se.pendingWrite.filled
		se.pendingWrite = nil
		s.enqueueEvent(se.writable, Event{Code: eventWriteCode(kind), Index: se.writable, Payload: EncodeAsyncStatus(StatusDropped, filled)})
	}
	s.freeStreamIndex(readable, kind)
	return nil
}

// StreamDropWritable implements `stream.drop-writable`.
func (s *Store) StreamDropWritable(writable Handle) error {
	return s.dropWritable(writable, KindStreamWritable)
}

// FutureDropWritable implements `future.drop-writable`. Traps if no
// value was ever written and the reader has not already dropped, per
// SPEC_FULL.md's resolution of the "drop before value" Open Question.
func (s *Store) FutureDropWritable(writable Handle) error {
	se, err := s.streamEndFor(writable, KindFutureWritable)
	if err != nil {
		return err
	}
	if !se.valueWritten && !se.readerDropped {
		return newTrap(TrapMisuse, msgDropWritableFutureEarly)
	}
	return s.dropWritable(writable, KindFutureWritable)
}

func (s *Store) dropWritable(writable Handle, kind Kind) error {
	se, err := s.streamEndFor(writable, kind)
	if err != nil {
		return err
	}
	if se.pendingWrite != nil {
		return newTrap(TrapMisuse, msgDropStreamWithPendingOp)
	}
	se.writerDropped = true
	s.dropWaitable(writable)
	if se.pendingRead != nil {
		filled := se.pendingRead.filled
		se.pendingRead = nil
		s.enqueueEvent(se.readable, Event{Code: eventReadCode(kind), Index: se.readable, Payload: EncodeAsyncStatus(StatusDropped, filled)})
	}
	s.freeStreamIndex(writable, kind)
	return nil
}

func (s *Store) freeStreamIndex(h Handle, kind Kind) {
	switch kind {
	case KindStreamReadable:
		s.streamReadable.Remove(h.index())
	case KindStreamWritable:
		s.streamWritable.Remove(h.index())
	case KindFutureReadable:
		s.futureReadable.Remove(h.index())
	case KindFutureWritable:
		s.futureWritable.Remove(h.index())
	}
}
