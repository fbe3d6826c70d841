package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/guseggert/clusterclient/protocol"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const wsReadLimit = 4 << 20

// WebSocket is the transport of a child process whose parent is reachable at a WebSocket URL.
// Each frame carries one JSON envelope.
type WebSocket struct {
	log  *zap.SugaredLogger
	conn *websocket.Conn

	ctx    context.Context
	cancel func()

	listeners fanout

	closeConnOnce sync.Once
	done          chan struct{}
}

type wsConfig struct {
	log                      *zap.SugaredLogger
	retryMax                 int
	retryWait                time.Duration
	customizeRetryableClient func(*retryablehttp.Client)
}

type WebSocketOption func(c *wsConfig)

func WithWebSocketLogger(l *zap.SugaredLogger) WebSocketOption {
	return func(c *wsConfig) {
		c.log = l
	}
}

// WithDialRetries sets how many times the handshake is retried, and the wait between attempts.
func WithDialRetries(n int, wait time.Duration) WebSocketOption {
	return func(c *wsConfig) {
		c.retryMax = n
		c.retryWait = wait
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) WebSocketOption {
	return func(c *wsConfig) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// DialWebSocket connects to the parent at url and starts reading envelopes.
// The handshake is retried, since the parent may not be listening yet when the child starts.
func DialWebSocket(ctx context.Context, url string, opts ...WebSocketOption) (*WebSocket, error) {
	cfg := wsConfig{
		log:       zap.NewNop().Sugar(),
		retryMax:  10,
		retryWait: 100 * time.Millisecond,
	}
	for _, o := range opts {
		o(&cfg)
	}
	log := cfg.log.Named("ws_transport")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.retryMax
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return cfg.retryWait
	}
	retryClient.Logger = &logAdapter{SugaredLogger: log}
	if cfg.customizeRetryableClient != nil {
		cfg.customizeRetryableClient(retryClient)
	}

	log.Debugw("dialing parent", "URL", url)
	wsConn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:      retryClient.StandardClient(),
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("establishing WebSocket conn to parent: %w", err)
	}
	return NewWebSocket(wsConn, log), nil
}

// NewWebSocket wraps an established connection.
func NewWebSocket(conn *websocket.Conn, log *zap.SugaredLogger) *WebSocket {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	conn.SetReadLimit(wsReadLimit)
	ctx, cancel := context.WithCancel(context.Background())
	w := &WebSocket{
		log:    log,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.readMessages()
	return w
}

// Send writes env as one frame and returns once the write completed.
func (w *WebSocket) Send(ctx context.Context, env protocol.Envelope) error {
	if w.ctx.Err() != nil {
		return ErrClosed
	}
	err := wsjson.Write(ctx, w.conn, env)
	if err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	w.log.Debugw("sent envelope", "Kind", env.Kind())
	return nil
}

func (w *WebSocket) Subscribe(l Listener) Subscription { return w.listeners.Add(l) }

func (w *WebSocket) Unsubscribe(s Subscription) { w.listeners.Remove(s) }

func (w *WebSocket) readMessages() {
	defer close(w.done)
	defer w.cancel()

	for {
		_, b, err := w.conn.Read(w.ctx)
		if websocket.CloseStatus(err) != -1 {
			w.log.Debugf("parent closed conn: %s", err)
			return
		}
		if err != nil {
			w.log.Debugf("message reader got error: %s", err)
			w.close(websocket.StatusInternalError, err.Error())
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			w.log.Debugf("skipping undecodable frame: %s", err)
			continue
		}
		if n := w.listeners.Deliver(env); n == 0 {
			w.log.Debugw("dropped envelope with no listeners", "Kind", env.Kind())
		}
	}
}

func (w *WebSocket) close(code websocket.StatusCode, reason string) {
	// websocket reason can't be above 123 chars
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	w.closeConnOnce.Do(func() {
		err := w.conn.Close(code, reason)
		if err != nil {
			w.log.Debugf("error closing conn: %s", err)
		}
	})
}

// Close closes the connection with a normal closure.
func (w *WebSocket) Close() error {
	w.close(websocket.StatusNormalClosure, "")
	w.cancel()
	return nil
}

func (w *WebSocket) Done() <-chan struct{} { return w.done }
