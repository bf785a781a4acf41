package asyncsched

// errorContext is a refcounted, opaque debug payload attached to a
// CANCELLED or trapped call, per spec §4.4's error-context built-ins.
// It never participates in scheduling; it is plain data carried across
// a component boundary.
type errorContext struct {
	debugMessage string
	refs         int
}

// ErrorContextNew implements `error-context.new`.
func (s *Store) ErrorContextNew(debugMessage string) Handle {
	ec := &errorContext{debugMessage: debugMessage, refs: 1}
	idx := s.errCtx.Insert(ec)
	h := encodeHandle(KindErrorContext, idx)
	s.recordCreation(h)
	return h
}

// ErrorContextDebugMessage implements `error-context.debug-message`.
func (s *Store) ErrorContextDebugMessage(h Handle) (string, error) {
	ec, err := s.errorContext(h)
	if err != nil {
		return "", err
	}
	return ec.debugMessage, nil
}

// ErrorContextDup increments h's reference count, modeling the
// component-model rule that error contexts may be duplicated across
// multiple call boundaries without copying their payload.
func (s *Store) ErrorContextDup(h Handle) (Handle, error) {
	ec, err := s.errorContext(h)
	if err != nil {
		return 0, err
	}
	ec.refs++
	return h, nil
}

// ErrorContextDrop implements `error-context.drop`: releases one
// reference, freeing the slot once the count reaches zero.
func (s *Store) ErrorContextDrop(h Handle) error {
	ec, err := s.errorContext(h)
	if err != nil {
		return err
	}
	ec.refs--
	if ec.refs < 0 {
		return newTrap(TrapMisuse, msgErrorContextRefUnderflow)
	}
	if ec.refs == 0 {
		s.errCtx.Remove(h.index())
	}
	return nil
}

func (s *Store) errorContext(h Handle) (*errorContext, error) {
	if err := checkKind(h, KindErrorContext); err != nil {
		return nil, err
	}
	ec, ok := s.errCtx.Get(h.index())
	if !ok {
		return nil, newTrap(TrapCrossStore, msgCrossStoreHandle)
	}
	return ec, nil
}
