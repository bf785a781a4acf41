package asyncsched

import (
	"github.com/bytecodealliance/wasmtime-sub013/internal/arena"
	"github.com/bytecodealliance/wasmtime-sub013/internal/telemetry"
)

// InstanceID names a component instance for the purposes of
// backpressure admission (spec §4.3): each instance's incoming tasks
// are gated independently.
type InstanceID uint32

// Store is the isolation unit owning all handles and scheduler state
// for one task graph; nothing is shared across Stores at runtime (spec
// §3). The zero value is not usable; construct with [NewStore].
type Store struct {
	opts *storeOptions
	log  telemetry.Logger

	tasks          *arena.Arena[*Task]
	sets           *arena.Arena[*WaitableSet]
	streamReadable *arena.Arena[*streamEnd]
	streamWritable *arena.Arena[*streamEnd]
	futureReadable *arena.Arena[*streamEnd]
	futureWritable *arena.Arena[*streamEnd]
	errCtx         *arena.Arena[*errorContext]

	// waitableSetOf maps a waitable's Handle to the WaitableSet Handle
	// it currently belongs to. Absence means unjoined.
	waitableSetOf map[Handle]Handle

	// pendingEvent maps a waitable's Handle to an Event it has not yet
	// delivered. Absence means no event is pending.
	pendingEvent map[Handle]Event

	// ready is the FIFO queue of tasks eligible to run or resume.
	ready []Handle

	// backpressure tracks the admission flag per instance (spec §4.3).
	backpressure map[InstanceID]bool
	// blockedStarting holds STARTING tasks admitted-but-not-yet-entered
	// for an instance with backpressure enabled, in FIFO order.
	blockedStarting map[InstanceID][]Handle

	// creationOrder records every handle in creation order, so a trap
	// can tear down tasks in reverse creation order (spec §4.4).
	creationOrder []Handle

	running bool
}

// NewStore constructs an empty Store.
func NewStore(opts ...StoreOption) *Store {
	cfg := resolveStoreOptions(opts)
	return &Store{
		opts:            cfg,
		log:             cfg.logger,
		tasks:           arena.New[*Task](),
		sets:            arena.New[*WaitableSet](),
		streamReadable:  arena.New[*streamEnd](),
		streamWritable:  arena.New[*streamEnd](),
		futureReadable:  arena.New[*streamEnd](),
		futureWritable:  arena.New[*streamEnd](),
		errCtx:          arena.New[*errorContext](),
		waitableSetOf:   make(map[Handle]Handle),
		pendingEvent:    make(map[Handle]Event),
		backpressure:    make(map[InstanceID]bool),
		blockedStarting: make(map[InstanceID][]Handle),
	}
}

func (s *Store) metrics() *telemetry.Metrics { return s.opts.metrics }

func (s *Store) recordCreation(h Handle) {
	s.creationOrder = append(s.creationOrder, h)
}

// enqueueReady appends a task handle to the FIFO ready queue, unless it
// is already present (idempotent wake).
func (s *Store) enqueueReady(h Handle) {
	for _, r := range s.ready {
		if r == h {
			return
		}
	}
	s.ready = append(s.ready, h)
	if m := s.metrics(); m != nil {
		m.ReadyQueueDepth.Set(float64(len(s.ready)))
	}
}

func (s *Store) popReady() (Handle, bool) {
	if len(s.ready) == 0 {
		return 0, false
	}
	h := s.ready[0]
	s.ready = s.ready[1:]
	if m := s.metrics(); m != nil {
		m.ReadyQueueDepth.Set(float64(len(s.ready)))
	}
	return h, true
}
