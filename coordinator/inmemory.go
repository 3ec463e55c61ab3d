package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tanstack/db-sqlite-persist/errtag"
	"github.com/tanstack/db-sqlite-persist/log"
)

// InMemoryOption configures an InMemory coordinator.
type InMemoryOption func(*inMemoryOpts)

type inMemoryOpts struct {
	logger       log.Logger
	leader       bool
	leaderCheck  func() bool
	backoffRetry time.Duration
	maxRetries   uint64
}

// WithLogger overrides the coordinator's logger. Defaults to a no-op logger.
func WithLogger(l log.Logger) InMemoryOption {
	return func(o *inMemoryOpts) { o.logger = l }
}

// WithLeader sets the node's initial leadership state. Defaults to true,
// matching the spec's default single-process coordinator.
func WithLeader(leader bool) InMemoryOption {
	return func(o *inMemoryOpts) { o.leader = leader }
}

// WithLeaderCheck replaces the leadership predicate EnsureLeadership polls.
// Useful for tests that simulate a node losing and regaining leadership.
func WithLeaderCheck(fn func() bool) InMemoryOption {
	return func(o *inMemoryOpts) { o.leaderCheck = fn }
}

// WithLeadershipRetry overrides EnsureLeadership's backoff interval and
// retry budget. Defaults to a 50ms interval and 10 retries.
func WithLeadershipRetry(interval time.Duration, maxRetries uint64) InMemoryOption {
	return func(o *inMemoryOpts) { o.backoffRetry, o.maxRetries = interval, maxRetries }
}

// InMemory is the default Coordinator: a single process is both leader and
// the whole cluster, so Subscribe/Publish/Call are direct in-process fan-out
// rather than a network protocol. It's the implementation every wrapper
// test in this repo runs against, and the shape a networked coordinator
// (out of scope - see SPEC_FULL's non-goals) would need to preserve.
type InMemory struct {
	nodeID NodeID
	log    log.Logger
	opts   inMemoryOpts

	mu          sync.Mutex
	subscribers map[string][]subscriber
	rpcHandlers map[string]RPCHandler
	nextSubID   int
}

type subscriber struct {
	id      int
	handler Handler
}

// NewInMemory constructs an InMemory coordinator with a freshly generated
// NodeID.
func NewInMemory(opts ...InMemoryOption) *InMemory {
	o := inMemoryOpts{
		logger:       log.NewLogger(log.WithNop()),
		leader:       true,
		backoffRetry: 50 * time.Millisecond,
		maxRetries:   10,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &InMemory{
		nodeID:      NewNodeID(),
		log:         o.logger,
		opts:        o,
		subscribers: make(map[string][]subscriber),
		rpcHandlers: make(map[string]RPCHandler),
	}
}

func (c *InMemory) GetNodeID() NodeID {
	return c.nodeID
}

func (c *InMemory) Subscribe(collectionID string, handler Handler) Unsubscribe {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[collectionID] = append(c.subscribers[collectionID], subscriber{id: id, handler: handler})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			subs := c.subscribers[collectionID]
			for i, s := range subs {
				if s.id == id {
					c.subscribers[collectionID] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

func (c *InMemory) Publish(ctx context.Context, event Event) error {
	if event.SenderID.IsZero() {
		event.SenderID = c.nodeID
	}
	c.mu.Lock()
	subs := make([]subscriber, len(c.subscribers[event.CollectionID]))
	copy(subs, c.subscribers[event.CollectionID])
	c.mu.Unlock()

	for _, s := range subs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			s.handler(event)
		}
	}
	return nil
}

func (c *InMemory) IsLeader() bool {
	if c.opts.leaderCheck != nil {
		return c.opts.leaderCheck()
	}
	return c.opts.leader
}

// EnsureLeadership retries IsLeader against a constant backoff until it
// reports true or the retry budget is exhausted, matching the teacher's
// waitHealthy pattern in sqlitedriver.Open. Exhausting the budget returns
// errtag.NoLeader, the Open Question resolution recorded in DESIGN.md.
func (c *InMemory) EnsureLeadership(ctx context.Context) error {
	if c.IsLeader() {
		return nil
	}
	check := func() error {
		if c.IsLeader() {
			return nil
		}
		return fmt.Errorf("node %s is not leader", c.nodeID)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.backoffRetry), c.opts.maxRetries), ctx)
	if err := backoff.Retry(check, bo); err != nil {
		c.log.Warn("coordinator: leadership unreachable", "nodeId", c.nodeID.String(), "err", err)
		return errtag.Tag[errtag.NoLeader](err, errtag.WithMsg("no leader reachable"))
	}
	return nil
}

func (c *InMemory) RegisterRPC(method string, handler RPCHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rpcHandlers[method] = handler
}

func (c *InMemory) Call(ctx context.Context, method, collectionID string, payload any) (any, error) {
	c.mu.Lock()
	handler, ok := c.rpcHandlers[method]
	c.mu.Unlock()
	if !ok {
		return nil, errtag.Tag[errtag.UnsupportedMethod](
			fmt.Errorf("no rpc handler registered for %q", method),
			errtag.WithDetails(method),
		)
	}
	return handler(ctx, collectionID, payload)
}
