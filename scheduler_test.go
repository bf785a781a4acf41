package asyncsched

import "github.com/bytecodealliance/wasmtime-sub013/internal/codec"

// fakeMemory is a flat byte-slice-backed codec.Memory for tests: a
// single growable arena with a bump allocator for Realloc, good enough
// to exercise scalar/string/list transfers without a real Wasm linear
// memory.
type fakeMemory struct {
	buf  []byte
	next uint32
}

func newFakeMemory(size uint32) *fakeMemory {
	return &fakeMemory{buf: make([]byte, size), next: 1}
}

func (m *fakeMemory) ReadBytes(ptr, size uint32) ([]byte, error) {
	out := make([]byte, size)
	copy(out, m.buf[ptr:ptr+size])
	return out, nil
}

func (m *fakeMemory) WriteBytes(ptr uint32, data []byte) error {
	copy(m.buf[ptr:], data)
	return nil
}

func (m *fakeMemory) Realloc(oldPtr, oldSize, align, newSize uint32) (uint32, error) {
	p := m.next
	if align > 1 {
		if rem := p % align; rem != 0 {
			p += align - rem
		}
	}
	m.next = p + newSize
	return p, nil
}

var byteCodec = codec.Scalar{Width: 1}
