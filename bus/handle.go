package bus

// RegisterPlugin allocates a new bounded mailbox for name, inserts its
// send-end into the shared mailbox map, and returns the receive-end to the
// caller, who becomes its exclusive owner.
func (h *Handle) RegisterPlugin(name string) <-chan Message {
	ch := make(chan Message, h.mailboxCapacity)

	h.state.mbxMu.Lock()
	h.state.mbx[name] = ch
	h.state.mbxMu.Unlock()

	return ch
}

// UnregisterPlugin removes name's mailbox entry, removes it from every
// subscription set, and deletes any topic whose set becomes empty.
func (h *Handle) UnregisterPlugin(name string) {
	h.state.mbxMu.Lock()
	delete(h.state.mbx, name)
	h.state.mbxMu.Unlock()

	h.state.subMu.Lock()
	for topic, members := range h.state.subs {
		if _, ok := members[name]; ok {
			delete(members, name)
			if len(members) == 0 {
				delete(h.state.subs, topic)
			}
		}
	}
	h.state.subMu.Unlock()
}

// Subscribe inserts name into topic's subscriber set, returning true iff
// this was a new membership.
func (h *Handle) Subscribe(name, topic string) bool {
	h.state.subMu.Lock()
	defer h.state.subMu.Unlock()

	members, ok := h.state.subs[topic]
	if !ok {
		members = make(map[string]struct{})
		h.state.subs[topic] = members
	}
	if _, already := members[name]; already {
		return false
	}
	members[name] = struct{}{}
	return true
}

// Unsubscribe removes name from topic's subscriber set, deleting the topic
// entry if its set becomes empty. Returns true iff name was a member.
func (h *Handle) Unsubscribe(name, topic string) bool {
	h.state.subMu.Lock()
	defer h.state.subMu.Unlock()

	members, ok := h.state.subs[topic]
	if !ok {
		return false
	}
	if _, member := members[name]; !member {
		return false
	}
	delete(members, name)
	if len(members) == 0 {
		delete(h.state.subs, topic)
	}
	return true
}

// Subscribers returns a snapshot of topic's current subscriber set.
func (h *Handle) Subscribers(topic string) []string {
	h.state.subMu.RLock()
	defer h.state.subMu.RUnlock()

	members := h.state.subs[topic]
	out := make([]string, 0, len(members))
	for name := range members {
		out = append(out, name)
	}
	return out
}

// SendMessage enqueues msg onto the main inbound channel for the router to
// pick up and route. It returns ErrBusClosed once Shutdown has been
// called.
func (h *Handle) SendMessage(msg Message) error {
	if h.shutdown.closed.Load() {
		return ErrBusClosed
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = nowMillis()
	}

	select {
	case h.inbound <- msg:
		return nil
	case <-h.shutdown.ch:
		return ErrBusClosed
	}
}

// Shutdown signals the router to stop accepting new inbound messages.
// Subsequent SendMessage calls on this handle (or any of its clones)
// observe ErrBusClosed. Shutdown is idempotent.
func (h *Handle) Shutdown() {
	h.shutdown.trigger()
}
