// Package bus implements the kernel's message bus and router (spec.md
// §4.3): a clonable send-handle paired with a single-owner router, bounded
// per-plugin mailboxes, and a topic subscription index.
//
// The handle and the router share two maps guarded by a reader-writer
// lock: plugin name -> mailbox send-end, and topic -> subscriber set. The
// routing hot path always follows acquire -> snapshot -> release -> await:
// no lock is ever held across a channel send, so one slow mailbox can never
// stall delivery to any other subscriber beyond the single enqueue attempt
// made on its behalf.
package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wasmforge/kernel/logging"
	"github.com/wasmforge/kernel/metrics"
)

const (
	defaultInboundCapacity = 1000
	defaultMailboxCapacity = 100
)

// Option configures New.
type Option func(*options)

type options struct {
	inboundCapacity int
	mailboxCapacity int
	logger          logging.Logger
	metrics         *metrics.Registry
}

// WithInboundCapacity overrides the main inbound channel's capacity.
func WithInboundCapacity(n int) Option {
	return func(o *options) { o.inboundCapacity = n }
}

// WithMailboxCapacity overrides each new mailbox's capacity.
func WithMailboxCapacity(n int) Option {
	return func(o *options) { o.mailboxCapacity = n }
}

// WithLogger attaches a logger used for routing diagnostics.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics attaches a metrics registry for routing counters/gauges.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *options) { o.metrics = m }
}

// sharedState is the pair of maps the Handle and Router both reference.
type sharedState struct {
	mbxMu sync.RWMutex
	mbx   map[string]chan Message

	subMu sync.RWMutex
	subs  map[string]map[string]struct{} // topic -> set of plugin names
}

// Handle is a clonable value conferring the right to send messages and to
// mutate the subscription/mailbox tables. Cloning a Handle is simply
// copying the struct; every copy shares the same underlying state and
// inbound channel send-end.
type Handle struct {
	state           *sharedState
	inbound         chan<- Message
	shutdown        *shutdownSignal
	logger          logging.Logger
	metrics         *metrics.Registry
	mailboxCapacity int
}

// Router is the single-consumer task that drains the inbound channel and
// fans messages into mailboxes. It is move-only: New returns exactly one
// Router and there is no API to obtain a second one or to duplicate it.
type Router struct {
	state    *sharedState
	inbound  <-chan Message
	shutdown *shutdownSignal
	logger   logging.Logger
	metrics  *metrics.Registry
}

type shutdownSignal struct {
	once   sync.Once
	ch     chan struct{}
	closed atomic.Bool
}

func newShutdownSignal() *shutdownSignal {
	return &shutdownSignal{ch: make(chan struct{})}
}

func (s *shutdownSignal) trigger() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
	})
}

// New constructs a bus, returning the clonable send-handle and the
// move-only router that must be run exactly once via Router.Run.
func New(opts ...Option) (*Handle, *Router) {
	o := options{
		inboundCapacity: defaultInboundCapacity,
		mailboxCapacity: defaultMailboxCapacity,
		logger:          logging.NewNoOpLogger(),
	}
	for _, apply := range opts {
		apply(&o)
	}

	state := &sharedState{
		mbx:  make(map[string]chan Message),
		subs: make(map[string]map[string]struct{}),
	}

	inbound := make(chan Message, o.inboundCapacity)
	sig := newShutdownSignal()

	handle := &Handle{
		state:           state,
		inbound:         inbound,
		shutdown:        sig,
		logger:          o.logger,
		metrics:         o.metrics,
		mailboxCapacity: o.mailboxCapacity,
	}
	router := &Router{state: state, inbound: inbound, shutdown: sig, logger: o.logger, metrics: o.metrics}
	return handle, router
}
