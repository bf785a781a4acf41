package asyncsched

import (
	"fmt"

	"github.com/bytecodealliance/wasmtime-sub013/internal/arena"
)

// Kind identifies which typed table a Handle indexes into. Per spec §3,
// "a handle encodes its kind; mixing kinds traps."
type Kind uint8

const (
	KindTask Kind = iota + 1
	KindWaitableSet
	KindStreamReadable
	KindStreamWritable
	KindFutureReadable
	KindFutureWritable
	KindErrorContext
)

func (k Kind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindWaitableSet:
		return "waitable-set"
	case KindStreamReadable:
		return "stream-readable"
	case KindStreamWritable:
		return "stream-writable"
	case KindFutureReadable:
		return "future-readable"
	case KindFutureWritable:
		return "future-writable"
	case KindErrorContext:
		return "error-context"
	default:
		return "unknown"
	}
}

// Handle is an opaque 32-bit index into a typed table within a [Store]:
// 8 bits kind tag, 8 bits generation, 16 bits slot index. This caps any
// single kind's table at 65536 live-or-freed slots and wraps generation
// checking every 256 reuses of a slot — an acceptable bound for the
// single-Store, single-embedding lifetime this scheduler targets (see
// DESIGN.md).
type Handle uint32

const (
	handleSlotBits = 16
	handleGenBits  = 8
	handleSlotMask = 1<<handleSlotBits - 1
	handleGenMask  = 1<<handleGenBits - 1
)

func encodeHandle(kind Kind, idx arena.Index) Handle {
	return Handle(uint32(kind)<<(handleSlotBits+handleGenBits) |
		(idx.Gen&handleGenMask)<<handleSlotBits |
		(idx.Slot & handleSlotMask))
}

func (h Handle) kind() Kind {
	return Kind(uint32(h) >> (handleSlotBits + handleGenBits))
}

func (h Handle) index() arena.Index {
	return arena.Index{
		Slot: uint32(h) & handleSlotMask,
		Gen:  (uint32(h) >> handleSlotBits) & handleGenMask,
	}
}

func (h Handle) String() string {
	return fmt.Sprintf("%s:%s", h.kind(), h.index())
}

// checkKind traps with TrapMisuse if h does not carry the expected kind.
func checkKind(h Handle, want Kind) error {
	if h.kind() != want {
		return newTrapf(TrapMisuse, "%s: got %s handle, want %s", msgMismatchedHandleKind, h.kind(), want)
	}
	return nil
}
