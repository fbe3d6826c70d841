package transport

import (
	"context"
	"sync"

	"github.com/guseggert/clusterclient/protocol"
	"go.uber.org/zap"
)

// Port is one end of an in-process message channel between a parent and a worker goroutine.
// Envelopes are deep-copied on send, so the two ends never share memory.
// Send never blocks and has no delivery acknowledgment.
type Port struct {
	log  *zap.SugaredLogger
	peer *Port

	m      sync.Mutex
	queue  []protocol.Envelope
	wake   chan struct{}
	closed bool

	listeners fanout

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewPortPair returns two connected ports. What is sent on one is received on the other.
func NewPortPair(log *zap.SugaredLogger) (*Port, *Port) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a := newPort(log.Named("port_a"))
	b := newPort(log.Named("port_b"))
	a.peer, b.peer = b, a
	go a.readLoop()
	go b.readLoop()
	return a, b
}

func newPort(log *zap.SugaredLogger) *Port {
	return &Port{
		log:  log,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Send queues a copy of env on the peer and returns immediately.
func (p *Port) Send(ctx context.Context, env protocol.Envelope) error {
	if p.isClosed() {
		return ErrClosed
	}
	clone, err := env.Clone()
	if err != nil {
		return &TransportError{Op: "clone", Err: err}
	}
	if !p.peer.enqueue(clone) {
		return ErrClosed
	}
	p.log.Debugw("posted envelope", "Kind", env.Kind())
	return nil
}

func (p *Port) enqueue(env protocol.Envelope) bool {
	p.m.Lock()
	if p.closed {
		p.m.Unlock()
		return false
	}
	p.queue = append(p.queue, env)
	p.m.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

func (p *Port) isClosed() bool {
	p.m.Lock()
	defer p.m.Unlock()
	return p.closed
}

func (p *Port) Subscribe(l Listener) Subscription { return p.listeners.Add(l) }

func (p *Port) Unsubscribe(s Subscription) { p.listeners.Remove(s) }

func (p *Port) readLoop() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case <-p.wake:
		}
		for {
			p.m.Lock()
			if len(p.queue) == 0 {
				p.m.Unlock()
				break
			}
			env := p.queue[0]
			p.queue = p.queue[1:]
			p.m.Unlock()

			if n := p.listeners.Deliver(env); n == 0 {
				p.log.Debugw("dropped envelope with no listeners", "Kind", env.Kind())
			}
		}
	}
}

// Close closes both ends of the channel. Queued envelopes that were not yet delivered are discarded.
func (p *Port) Close() error {
	p.shutdown()
	p.peer.shutdown()
	return nil
}

func (p *Port) shutdown() {
	p.closeOnce.Do(func() {
		p.m.Lock()
		p.closed = true
		p.queue = nil
		p.m.Unlock()
		close(p.stop)
	})
}

func (p *Port) Done() <-chan struct{} { return p.done }
