package transport

import "sync"

// The channel is a process-wide resource shared by every consumer in
// the admin session: it is created once, reused for the session's
// lifetime, and torn down on logout. These accessors replace an
// ambient mutable global with an explicit lifecycle.

var (
	sharedMu sync.Mutex
	shared   *Service
)

// GetOrCreate returns the session's shared transport service, building
// it on first call. Later calls ignore cfg and return the existing
// service.
func GetOrCreate(cfg Config) *Service {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared == nil {
		shared = NewService(cfg)
	}
	return shared
}

// Get returns the shared service, or nil when no session has created
// one. Callers must treat nil as "not connected".
func Get() *Service {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	return shared
}

// Shutdown closes the shared service and forgets it, ending the
// session. A later GetOrCreate starts a fresh session.
func Shutdown() {
	sharedMu.Lock()
	svc := shared
	shared = nil
	sharedMu.Unlock()

	if svc != nil {
		svc.Close()
	}
}
