package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"github.com/guseggert/clusterclient/protocol"
	"go.uber.org/zap"
)

const defaultMaxMessageSize = 4 << 20

// Process is the transport of a child process: envelopes are JSON objects, one per line,
// read from the pipe the parent writes to (normally stdin) and written to the pipe the parent reads (normally stdout).
type Process struct {
	log *zap.SugaredLogger

	mu  sync.Mutex
	enc *json.Encoder

	r       io.Reader
	scanner *bufio.Scanner

	listeners    fanout
	onParseError func(line []byte, err error)

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	readErr   atomic.Value
}

type ProcessOption func(p *Process)

func WithProcessLogger(l *zap.SugaredLogger) ProcessOption {
	return func(p *Process) {
		p.log = l.Named("process_transport")
	}
}

// WithParseErrorHandler is called with every inbound line that is not a JSON value.
func WithParseErrorHandler(f func(line []byte, err error)) ProcessOption {
	return func(p *Process) {
		p.onParseError = f
	}
}

func WithMaxMessageSize(n int) ProcessOption {
	return func(p *Process) {
		p.scanner = newScanner(p.r, n)
	}
}

// NewProcess starts a Process transport reading from r and writing to w.
func NewProcess(r io.Reader, w io.Writer, opts ...ProcessOption) *Process {
	p := &Process{
		log:     zap.NewNop().Sugar(),
		enc:     json.NewEncoder(w),
		r:       r,
		scanner: newScanner(r, defaultMaxMessageSize),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	go p.readLoop()
	return p
}

func newScanner(r io.Reader, maxSize int) *bufio.Scanner {
	s := bufio.NewScanner(r)
	initCap := min(4096, maxSize)
	s.Buffer(make([]byte, 0, initCap), maxSize)
	return s
}

// Send writes env as one line and returns once the write completed.
func (p *Process) Send(ctx context.Context, env protocol.Envelope) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(env); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	p.log.Debugw("sent envelope", "Kind", env.Kind())
	return nil
}

func (p *Process) Subscribe(l Listener) Subscription { return p.listeners.Add(l) }

func (p *Process) Unsubscribe(s Subscription) { p.listeners.Remove(s) }

func (p *Process) readLoop() {
	defer close(p.done)

	for p.scanner.Scan() {
		line := p.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			p.log.Debugf("skipping unparseable line: %s", err)
			if p.onParseError != nil {
				p.onParseError(append([]byte(nil), line...), err)
			}
			continue
		}
		n := p.listeners.Deliver(env)
		if n == 0 {
			p.log.Debugw("dropped envelope with no listeners", "Kind", env.Kind())
		}
	}
	if err := p.scanner.Err(); err != nil && !p.closed.Load() {
		p.readErr.Store(err)
		p.log.Debugf("read loop got error: %s", err)
	}
}

// Err returns the error that stopped the read loop, if any.
func (p *Process) Err() error {
	if v := p.readErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Close stops sending and closes the reader if it is closable. The read loop exits once the reader returns.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if c, ok := p.r.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (p *Process) Done() <-chan struct{} { return p.done }
