package child

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/clusterclient/protocol"
	"github.com/guseggert/clusterclient/transport"
	"go.uber.org/zap"
)

type reply struct {
	result json.RawMessage
	err    error
}

// pendingOp is a request waiting for its reply. kind, key and target are the request payload,
// used to match replies from parents that do not echo the request id.
type pendingOp struct {
	kind   protocol.Kind
	key    string
	target *int
	ch     chan reply
}

func (p *pendingOp) matches(kind protocol.Kind, key string, target *int) bool {
	if p.kind != kind || p.key != key {
		return false
	}
	if p.target == nil || target == nil {
		return p.target == nil && target == nil
	}
	return *p.target == *target
}

// correlator issues requests to the parent and routes replies back to the callers waiting on them.
//
// Every request carries a fresh id. A reply echoing an id goes to that request only. A reply without
// an id is matched on its payload, and then every request with the same payload receives it.
type correlator struct {
	log     *zap.SugaredLogger
	t       transport.Transport
	diag    *Diagnostics
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingOp
	// closedErr is returned to new requests once no reply can arrive anymore.
	closedErr error

	sub  transport.Subscription
	stop chan struct{}
}

func newCorrelator(log *zap.SugaredLogger, t transport.Transport, diag *Diagnostics, timeout time.Duration) *correlator {
	c := &correlator{
		log:     log,
		t:       t,
		diag:    diag,
		timeout: timeout,
		pending: map[string]*pendingOp{},
		stop:    make(chan struct{}),
	}
	c.sub = t.Subscribe(c.handle)
	go c.watchTransport()
	return c
}

// watchTransport fails every outstanding request once the transport is gone, since no reply can arrive anymore.
func (c *correlator) watchTransport() {
	select {
	case <-c.t.Done():
		c.drain(transport.ErrClosed)
	case <-c.stop:
	}
}

func (c *correlator) close() {
	c.t.Unsubscribe(c.sub)
	c.drain(ErrClientClosed)
	close(c.stop)
}

func (c *correlator) drain(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedErr == nil {
		c.closedErr = err
	}
	for id, op := range c.pending {
		op.ch <- reply{err: err}
		delete(c.pending, id)
	}
}

func (c *correlator) outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// request sends env and blocks until its reply arrives, ctx is done, or the timeout expires.
func (c *correlator) request(ctx context.Context, env protocol.Envelope, kind protocol.Kind, key string, target *int) (json.RawMessage, error) {
	id := uuid.NewString()
	env.ID = id
	op := &pendingOp{kind: kind, key: key, target: target, ch: make(chan reply, 1)}

	c.mu.Lock()
	if c.closedErr != nil {
		err := c.closedErr
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = op
	c.mu.Unlock()

	c.log.Debugw("sending request", "Kind", kind, "Key", key, "ID", id)
	if err := c.t.Send(ctx, env); err != nil {
		c.remove(id)
		return nil, err
	}

	var timeout <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-op.ch:
		return r.result, r.err
	case <-ctx.Done():
		if r, ok := c.abandon(id, op); ok {
			return r.result, r.err
		}
		return nil, ctx.Err()
	case <-timeout:
		if r, ok := c.abandon(id, op); ok {
			return r.result, r.err
		}
		return nil, fmt.Errorf("%s %q after %s: %w", kind, key, c.timeout, ErrTimeout)
	}
}

func (c *correlator) remove(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// abandon releases a pending request. A reply may have been routed just before; it is returned rather than discarded.
func (c *correlator) abandon(id string, op *pendingOp) (reply, bool) {
	c.remove(id)
	select {
	case r := <-op.ch:
		return r, true
	default:
		return reply{}, false
	}
}

// handle is the transport listener. It only looks at replies; everything else belongs to someone else.
func (c *correlator) handle(env protocol.Envelope) {
	var (
		kind   protocol.Kind
		key    string
		target *int
	)
	switch {
	case env.FetchPropRequest != nil:
		kind, key, target = protocol.KindFetchPropRequest, *env.FetchPropRequest, env.FetchPropTarget
	case env.EvalRequest != nil:
		kind, key, target = protocol.KindEvalRequest, *env.EvalRequest, env.EvalTarget
	default:
		return
	}

	r := reply{result: env.Result}
	if env.Error != nil {
		r = reply{err: newRemoteExecutionError(env.Error)}
	}

	c.mu.Lock()
	var matched []*pendingOp
	if env.ID != "" {
		if op, ok := c.pending[env.ID]; ok && op.kind == kind {
			matched = append(matched, op)
			delete(c.pending, env.ID)
		}
	} else {
		for id, op := range c.pending {
			if op.matches(kind, key, target) {
				matched = append(matched, op)
				delete(c.pending, id)
			}
		}
	}
	c.mu.Unlock()

	if len(matched) == 0 {
		c.log.Debugw("reply matched no pending request", "Kind", kind, "Key", key, "ID", env.ID)
		c.diag.publish(DiagUnmatchedReply, fmt.Sprintf("%s reply for %q (id %q) matched no pending request", kind, key, env.ID), nil)
		return
	}
	for _, op := range matched {
		op.ch <- r
	}
}
