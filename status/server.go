package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/guseggert/clusterclient/child"
	"github.com/guseggert/clusterclient/identity"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Source is what the server reports on. *child.Client implements it.
type Source interface {
	InstanceID() string
	Info() *identity.ChildIdentity
	Pending() int
	Diagnostics() *child.Diagnostics
}

// Server is a read-only HTTP endpoint for inspecting a running child.
type Server struct {
	logger *zap.SugaredLogger
	source Source

	listenAddr string
	started    time.Time

	httpServer *http.Server
	listenMut  sync.Mutex
	listener   net.Listener

	heartbeatMut  sync.Mutex
	lastHeartbeat time.Time
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Named("status").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(s *Server) {
		s.logger = s.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

func NewServer(source Source, opts ...Option) (*Server, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Server{
		logger:     logger.Named("status").Sugar(),
		source:     source,
		listenAddr: "127.0.0.1:0",
		started:    time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

// Handler routes the status endpoints.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/heartbeat", s.heartbeat)
	router.GET("/identity", s.identity)
	router.GET("/pending", s.pending)
	router.GET("/diagnostics", s.diagnostics)
	return router
}

// Listen binds the listen address. Run calls it if it wasn't called before.
func (s *Server) Listen() error {
	s.listenMut.Lock()
	defer s.listenMut.Unlock()
	if s.listener != nil {
		return nil
	}
	l, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	s.listener = l
	return nil
}

// Addr is the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.listenMut.Lock()
	defer s.listenMut.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run serves until Close is called.
func (s *Server) Run() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.logger.Debugf("serving status on %s", s.Addr())
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close() error {
	return s.httpServer.Close()
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Debugf("error marshaling response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	_, _ = w.Write(b)
}

type HeartbeatResponse struct {
	LastHeartbeat string
	Uptime        string
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.heartbeatMut.Lock()
	lastHeartbeat := s.lastHeartbeat
	s.lastHeartbeat = time.Now()
	s.heartbeatMut.Unlock()

	resp := HeartbeatResponse{Uptime: time.Since(s.started).Round(time.Second).String()}
	if !lastHeartbeat.IsZero() {
		resp.LastHeartbeat = lastHeartbeat.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, resp)
}

type IdentityResponse struct {
	InstanceID string
	Identity   *identity.ChildIdentity
}

func (s *Server) identity(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.writeJSON(w, IdentityResponse{
		InstanceID: s.source.InstanceID(),
		Identity:   s.source.Info(),
	})
}

type PendingResponse struct {
	Pending int
}

func (s *Server) pending(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.writeJSON(w, PendingResponse{Pending: s.source.Pending()})
}

type DiagnosticResponse struct {
	Kind    child.DiagnosticKind
	Message string
	Time    string
}

func (s *Server) diagnostics(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	recent := s.source.Diagnostics().Recent()
	resp := make([]DiagnosticResponse, 0, len(recent))
	for _, d := range recent {
		resp = append(resp, DiagnosticResponse{
			Kind:    d.Kind,
			Message: d.Message,
			Time:    d.Time.UTC().Format(time.RFC3339Nano),
		})
	}
	s.writeJSON(w, resp)
}
