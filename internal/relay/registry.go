package relay

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Member is a live connection that can receive broadcasts.
type Member interface {
	ID() string
	RemoteAddr() string
	Send(payload []byte) error
	Close() error
}

// Registry tracks the members of one broadcast group. All membership changes
// and snapshot reads go through a single RWMutex; sends happen outside the
// lock so a slow member never blocks joins or leaves.
//
// A member stalled on a write still delays the broadcasting goroutine until
// the write completes or its write timeout fires.
type Registry struct {
	name    string
	members map[Member]struct{}
	mutex   sync.RWMutex
	log     *zap.Logger
	metrics *Metrics
}

// NewRegistry creates an empty registry. name labels logs and metrics.
func NewRegistry(name string, log *zap.Logger, metrics *Metrics) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		name:    name,
		members: make(map[Member]struct{}),
		log:     log.Named("registry"),
		metrics: metrics,
	}
}

// Register adds m. Registering a member twice is a no-op.
func (r *Registry) Register(m Member) {
	if m == nil {
		r.log.Warn("Received nil member registration; skipping")
		return
	}

	r.mutex.Lock()
	r.members[m] = struct{}{}
	count := len(r.members)
	r.mutex.Unlock()

	r.log.Info("Client registered",
		zap.String("conn_id", m.ID()),
		zap.String("remote_addr", m.RemoteAddr()),
		zap.Int("total_clients", count))
}

// Unregister removes m and reports whether it was present. Removing an
// absent member is a no-op.
func (r *Registry) Unregister(m Member) bool {
	if m == nil {
		return false
	}

	r.mutex.Lock()
	_, ok := r.members[m]
	if ok {
		delete(r.members, m)
	}
	count := len(r.members)
	r.mutex.Unlock()

	if ok {
		r.log.Info("Client unregistered",
			zap.String("conn_id", m.ID()),
			zap.String("remote_addr", m.RemoteAddr()),
			zap.Int("total_clients", count))
	}
	return ok
}

// Len returns the number of registered members.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.members)
}

// Members returns a snapshot of the registered members.
func (r *Registry) Members() []Member {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	members := make([]Member, 0, len(r.members))
	for m := range r.members {
		members = append(members, m)
	}
	return members
}

// Broadcast sends payload to every member of a snapshot taken at call time,
// skipping exclude when it is non-nil. A failed delivery is logged and does
// not stop delivery to the rest. It returns the number of successful sends.
func (r *Registry) Broadcast(payload []byte, exclude Member) int {
	members := r.Members()

	delivered := 0
	for _, m := range members {
		if exclude != nil && m == exclude {
			continue
		}
		err := m.Send(payload)
		r.metrics.delivered(r.name, err)
		if err != nil {
			if !errors.Is(err, ErrMemberClosed) && !IsPeerDisconnect(err) {
				r.log.Warn("Broadcast delivery failed",
					zap.String("conn_id", m.ID()),
					zap.String("remote_addr", m.RemoteAddr()),
					zap.Error(err))
			}
			continue
		}
		delivered++
	}

	r.log.Debug("Broadcast message",
		zap.Int("targets", len(members)),
		zap.Int("delivered", delivered))
	return delivered
}

// CloseAll closes every registered member's connection. Members unregister
// themselves as their handlers exit.
func (r *Registry) CloseAll() int {
	members := r.Members()
	for _, m := range members {
		if err := m.Close(); err != nil && !IsPeerDisconnect(err) {
			r.log.Warn("Error closing client connection",
				zap.String("remote_addr", m.RemoteAddr()),
				zap.Error(err))
		}
	}
	r.log.Info("Closed client connections", zap.Int("count", len(members)))
	return len(members)
}
