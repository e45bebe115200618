package bus

import "context"

// outcome classifies how a single routed message was handled, for logging
// and metrics purposes only.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeNotFound
	outcomeFailed
)

// Run drains the inbound channel until ctx is cancelled or Shutdown is
// triggered, fanning each message out to its destination mailbox(es). Run
// returns nil on a clean shutdown and ctx.Err() on cancellation.
//
// Topic messages: the subscriber set is snapshotted under the subscription
// lock, which is released before any send is attempted; the corresponding
// mailbox send-ends are then snapshotted under the mailbox lock, which is
// likewise released before sending. Direct messages: the destination
// mailbox send-end is looked up and the lock released before sending. In
// both cases no lock is ever held across a channel send, and each mailbox
// send is a single non-blocking attempt — a full mailbox drops the
// message for that recipient rather than stalling the router.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.shutdown.ch:
			return nil
		case msg, ok := <-r.inbound:
			if !ok {
				return nil
			}
			if msg.IsTopic() {
				r.routeTopic(msg)
			} else {
				r.routeDirect(msg)
			}
		}
	}
}

func (r *Router) routeTopic(msg Message) {
	r.state.subMu.RLock()
	members := r.state.subs[msg.Topic]
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	r.state.subMu.RUnlock()

	if len(names) == 0 {
		r.record(msg, outcomeNotFound)
		return
	}

	r.state.mbxMu.RLock()
	dests := make(map[string]chan Message, len(names))
	for _, name := range names {
		if ch, ok := r.state.mbx[name]; ok {
			dests[name] = ch
		}
	}
	r.state.mbxMu.RUnlock()

	delivered := 0
	for name, ch := range dests {
		select {
		case ch <- msg.Clone():
			delivered++
		default:
		}
		r.observeMailboxDepth(name, ch)
	}

	if delivered == 0 {
		r.record(msg, outcomeFailed)
		return
	}
	r.record(msg, outcomeSuccess)
}

func (r *Router) routeDirect(msg Message) {
	r.state.mbxMu.RLock()
	ch, ok := r.state.mbx[msg.To]
	r.state.mbxMu.RUnlock()

	if !ok {
		r.record(msg, outcomeNotFound)
		return
	}

	select {
	case ch <- msg:
		r.record(msg, outcomeSuccess)
	default:
		r.record(msg, outcomeFailed)
	}
	r.observeMailboxDepth(msg.To, ch)
}

// observeMailboxDepth reports name's current queue length right after a
// send attempt against ch, giving a point-in-time depth reading per
// mailbox without holding any lock while doing so.
func (r *Router) observeMailboxDepth(name string, ch chan Message) {
	if r.metrics == nil {
		return
	}
	r.metrics.MailboxDepth.WithLabelValues(name).Set(float64(len(ch)))
}

func (r *Router) record(msg Message, o outcome) {
	kind := "direct"
	if msg.IsTopic() {
		kind = "topic"
	}

	switch o {
	case outcomeSuccess:
		if r.metrics != nil {
			r.metrics.MessagesRouted.WithLabelValues(kind).Inc()
		}
	case outcomeNotFound:
		if r.metrics != nil {
			r.metrics.MessagesFailed.WithLabelValues(kind, "not_found").Inc()
		}
		r.logger.Debug("bus: no destination for message id=%s to=%q topic=%q", msg.ID, msg.To, msg.Topic)
	case outcomeFailed:
		if r.metrics != nil {
			r.metrics.MessagesFailed.WithLabelValues(kind, "mailbox_full").Inc()
		}
		r.logger.Warn("bus: mailbox full, message dropped id=%s to=%q topic=%q", msg.ID, msg.To, msg.Topic)
	}
}
