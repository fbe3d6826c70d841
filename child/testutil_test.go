package child

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/guseggert/clusterclient/identity"
	"github.com/guseggert/clusterclient/protocol"
	"github.com/guseggert/clusterclient/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testTimeout = 5 * time.Second

var testIdentity = &identity.ChildIdentity{
	ClusterIndex: 1,
	ShardIDs:     []int{2, 3},
	TotalShards:  6,
	ClusterCount: 3,
	Mode:         identity.ModeWorker,
}

// testParent plays the parent over the other end of a port pair.
type testParent struct {
	port *transport.Port
	ch   chan protocol.Envelope
}

func newTestClient(t *testing.T, app any, opts ...Option) (*Client, *testParent) {
	t.Helper()
	parentPort, childPort := transport.NewPortPair(nil)
	p := &testParent{port: parentPort, ch: make(chan protocol.Envelope, 64)}
	parentPort.Subscribe(func(env protocol.Envelope) { p.ch <- env })

	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	c, err := New(app, childPort, testIdentity, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		parentPort.Close()
	})
	return c, p
}

func (p *testParent) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case env := <-p.ch:
		return env
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for envelope from child")
		return protocol.Envelope{}
	}
}

func (p *testParent) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case env := <-p.ch:
		t.Fatalf("unexpected envelope from child: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func (p *testParent) send(t *testing.T, env protocol.Envelope) {
	t.Helper()
	require.NoError(t, p.port.Send(context.Background(), env))
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// fakeTransport records what is sent and fails sends on demand.
type fakeTransport struct {
	m         sync.Mutex
	next      transport.Subscription
	listeners map[transport.Subscription]transport.Listener
	sendErr   error
	sent      chan protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeTransport(sendErr error) *fakeTransport {
	return &fakeTransport{
		listeners: map[transport.Subscription]transport.Listener{},
		sendErr:   sendErr,
		sent:      make(chan protocol.Envelope, 64),
		done:      make(chan struct{}),
	}
}

func (f *fakeTransport) Send(ctx context.Context, env protocol.Envelope) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent <- env
	return nil
}

func (f *fakeTransport) Subscribe(l transport.Listener) transport.Subscription {
	f.m.Lock()
	defer f.m.Unlock()
	f.next++
	f.listeners[f.next] = l
	return f.next
}

func (f *fakeTransport) Unsubscribe(s transport.Subscription) {
	f.m.Lock()
	defer f.m.Unlock()
	delete(f.listeners, s)
}

func (f *fakeTransport) deliver(env protocol.Envelope) {
	f.m.Lock()
	var ls []transport.Listener
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	f.m.Unlock()
	for _, l := range ls {
		l(env)
	}
}

func (f *fakeTransport) subscribers() int {
	f.m.Lock()
	defer f.m.Unlock()
	return len(f.listeners)
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func waitDiagnostic(t *testing.T, ch <-chan Diagnostic, kind DiagnosticKind) Diagnostic {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case d := <-ch:
			if d.Kind == kind {
				return d
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s diagnostic", kind)
			return Diagnostic{}
		}
	}
}
