package child

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guseggert/clusterclient/protocol"
	"github.com/guseggert/clusterclient/transport"
	"go.uber.org/zap"
)

// ErrorReporter is implemented by applications that want to hear about failures no caller will see.
type ErrorReporter interface {
	ReportError(err error)
}

// readLocker is implemented by applications whose state must be read under a lock.
type readLocker interface {
	RLock()
	RUnlock()
}

// dispatcher executes operations the parent asks of this child, and sends back the results.
type dispatcher struct {
	log         *zap.SugaredLogger
	t           transport.Transport
	diag        *Diagnostics
	app         any
	eval        Evaluator
	evalTimeout time.Duration

	ctx context.Context
	sub transport.Subscription
}

func newDispatcher(ctx context.Context, log *zap.SugaredLogger, t transport.Transport, diag *Diagnostics, app any, eval Evaluator, evalTimeout time.Duration) *dispatcher {
	d := &dispatcher{
		log:         log,
		t:           t,
		diag:        diag,
		app:         app,
		eval:        eval,
		evalTimeout: evalTimeout,
		ctx:         ctx,
	}
	d.sub = t.Subscribe(d.handle)
	return d
}

func (d *dispatcher) close() {
	d.t.Unsubscribe(d.sub)
}

func (d *dispatcher) handle(env protocol.Envelope) {
	switch env.Kind() {
	case protocol.KindFetchProp:
		d.fetchProp(env)
	case protocol.KindEval:
		// evaluation may take arbitrarily long; don't hold up the read loop
		go d.evaluate(env)
	}
}

// fetchProp resolves and replies on the read goroutine, so the value reflects every message received before the
// request, and replies leave in the order the requests arrived.
func (d *dispatcher) fetchProp(env protocol.Envelope) {
	path := *env.FetchProp
	resp := protocol.Envelope{ID: env.ID, FetchProp: env.FetchProp}
	b, err := d.resolve(path)
	if err != nil {
		resp.Error = protocol.MakePlainError(err)
	} else {
		resp.Result = b
	}
	d.log.Debugw("resolved property", "Path", path, "ID", env.ID)
	d.respond("fetchProp", resp)
}

// resolve reads path from the application and encodes it. A panic while reading is returned as an error.
func (d *dispatcher) resolve(path string) (b []byte, err error) {
	if l, ok := d.app.(readLocker); ok {
		l.RLock()
		defer l.RUnlock()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("resolving %q: %v", path, r)
		}
	}()
	b, err = json.Marshal(ResolvePath(d.app, path))
	if err != nil {
		return nil, fmt.Errorf("encoding value of %q: %w", path, err)
	}
	return b, nil
}

func (d *dispatcher) evaluate(env protocol.Envelope) {
	code := *env.Eval
	resp := protocol.Envelope{ID: env.ID, Eval: env.Eval}

	ctx := d.ctx
	if d.evalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.evalTimeout)
		defer cancel()
	}

	result, err := d.eval.Eval(ctx, code)
	if err == nil {
		var b []byte
		b, err = json.Marshal(result)
		if err == nil {
			resp.Result = b
		} else {
			err = fmt.Errorf("encoding result: %w", err)
		}
	}
	if err != nil {
		d.log.Debugw("evaluation failed", "ID", env.ID, "Error", err)
		resp.Error = protocol.MakePlainError(err)
	}
	d.respond("eval", resp)
}

// respond sends a reply. A failure is reported to the application and the diagnostics channel, and is not retried.
func (d *dispatcher) respond(op string, resp protocol.Envelope) {
	err := d.t.Send(d.ctx, resp)
	if err == nil {
		return
	}
	sendErr := &DispatchSendError{Op: op, Err: err}
	d.log.Errorw("failed to send response", "Op", op, "Error", err)
	if r, ok := d.app.(ErrorReporter); ok {
		r.ReportError(sendErr)
	}
	d.diag.publish(DiagDispatchSendFailed, sendErr.Error(), sendErr)
}
