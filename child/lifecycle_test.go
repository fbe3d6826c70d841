package child

import (
	"context"
	"errors"
	"testing"

	"github.com/guseggert/clusterclient/protocol"
	"github.com/guseggert/clusterclient/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type notifyingApp struct {
	events chan LifecycleEvent
}

func (a *notifyingApp) Lifecycle() <-chan LifecycleEvent { return a.events }

func TestLifecycleForwarded(t *testing.T) {
	a := &notifyingApp{events: make(chan LifecycleEvent)}
	_, parent := newTestClient(t, a)

	a.events <- Ready
	env := parent.next(t)
	assert.Equal(t, protocol.KindReady, env.Kind())
	a.events <- Disconnected
	env = parent.next(t)
	assert.Equal(t, protocol.KindDisconnect, env.Kind())
	a.events <- Reconnecting
	env = parent.next(t)
	assert.Equal(t, protocol.KindReconnecting, env.Kind())
	a.events <- Ready
	env = parent.next(t)
	assert.Equal(t, protocol.KindReady, env.Kind())
}

func TestLifecycleStopsOnClose(t *testing.T) {
	a := &notifyingApp{events: make(chan LifecycleEvent, 1)}
	c, parent := newTestClient(t, a)
	require.NoError(t, c.Close())

	a.events <- Ready
	parent.expectNothing(t)
}

func TestNotify(t *testing.T) {
	c, parent := newTestClient(t, nil)

	require.NoError(t, c.Notify(context.Background(), Reconnecting))
	env := parent.next(t)
	assert.True(t, env.Reconnecting)
	assert.False(t, env.Ready)

	assert.Error(t, c.Notify(context.Background(), LifecycleEvent(42)))
	parent.expectNothing(t)
}

func TestLifecycleSendFailure(t *testing.T) {
	ft := newFakeTransport(&transport.TransportError{Op: "write", Err: errors.New("EPIPE")})
	a := &notifyingApp{events: make(chan LifecycleEvent)}
	c, err := New(a, ft, testIdentity, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer c.Close()

	diag, stop := c.Diagnostics().Subscribe(4)
	defer stop()

	a.events <- Disconnected
	d := waitDiagnostic(t, diag, DiagLifecycleSendFailed)
	assert.Equal(t, "forwarding disconnect: transport write: EPIPE", d.Message)

	// the loop survives a failed send
	a.events <- Ready
	waitDiagnostic(t, diag, DiagLifecycleSendFailed)
}

func TestLifecycleEventString(t *testing.T) {
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "disconnect", Disconnected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "LifecycleEvent(7)", LifecycleEvent(7).String())
}
