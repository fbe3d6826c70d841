package child

import (
	"sync"

	"github.com/guseggert/clusterclient/identity"
	"github.com/guseggert/clusterclient/transport"
	"go.uber.org/zap"
)

// Warner is implemented by applications that want to receive non-fatal warnings.
type Warner interface {
	Warn(msg string)
}

const duplicateClientWarning = "Multiple clients created in child process/worker; only the first will handle clustering helpers."

// Registry holds the one Client of a process. The first GetOrCreate constructs it; every later call
// returns the same Client, ignores its arguments, and warns.
type Registry struct {
	log *zap.SugaredLogger

	m      sync.Mutex
	client *Client
}

func NewRegistry(log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{log: log.Named("registry")}
}

func (r *Registry) GetOrCreate(app any, t transport.Transport, id *identity.ChildIdentity, opts ...Option) (*Client, error) {
	r.m.Lock()
	defer r.m.Unlock()

	if r.client != nil {
		r.log.Warn(duplicateClientWarning)
		if w, ok := app.(Warner); ok {
			w.Warn(duplicateClientWarning)
		}
		r.client.diag.publish(DiagDuplicateClient, duplicateClientWarning, nil)
		return r.client, nil
	}

	c, err := New(app, t, id, opts...)
	if err != nil {
		return nil, err
	}
	r.client = c
	return c, nil
}

// Client returns the registered client, or nil if none was created yet.
func (r *Registry) Client() *Client {
	r.m.Lock()
	defer r.m.Unlock()
	return r.client
}
