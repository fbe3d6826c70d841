package child

import (
	"context"
	"fmt"

	"github.com/guseggert/clusterclient/protocol"
	"github.com/guseggert/clusterclient/transport"
	"go.uber.org/zap"
)

// LifecycleEvent is a change in the application's connection to its upstream.
type LifecycleEvent int

const (
	Ready LifecycleEvent = iota
	Disconnected
	Reconnecting
)

func (e LifecycleEvent) String() string {
	switch e {
	case Ready:
		return "ready"
	case Disconnected:
		return "disconnect"
	case Reconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("LifecycleEvent(%d)", int(e))
}

func (e LifecycleEvent) envelope() (protocol.Envelope, error) {
	switch e {
	case Ready:
		return protocol.Envelope{Ready: true}, nil
	case Disconnected:
		return protocol.Envelope{Disconnect: true}, nil
	case Reconnecting:
		return protocol.Envelope{Reconnecting: true}, nil
	}
	return protocol.Envelope{}, fmt.Errorf("unknown lifecycle event %d", int(e))
}

// LifecycleNotifier is implemented by applications that publish their lifecycle.
// The channel is consumed until it is closed or the client is closed.
type LifecycleNotifier interface {
	Lifecycle() <-chan LifecycleEvent
}

// lifecycleForwarder sends lifecycle notices to the parent. Sends are best-effort: a failure is logged
// and published as a diagnostic, never retried.
type lifecycleForwarder struct {
	log  *zap.SugaredLogger
	t    transport.Transport
	diag *Diagnostics
}

func (f *lifecycleForwarder) forward(ctx context.Context, ev LifecycleEvent) error {
	env, err := ev.envelope()
	if err != nil {
		return err
	}
	err = f.t.Send(ctx, env)
	if err != nil {
		f.log.Warnw("failed to forward lifecycle event", "Event", ev, "Error", err)
		f.diag.publish(DiagLifecycleSendFailed, fmt.Sprintf("forwarding %s: %s", ev, err), err)
		return err
	}
	f.log.Debugw("forwarded lifecycle event", "Event", ev)
	return nil
}

func (f *lifecycleForwarder) run(ctx context.Context, events <-chan LifecycleEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = f.forward(ctx, ev)
		}
	}
}
