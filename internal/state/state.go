// Package state holds the process-scoped registry of transient handles shared
// between the HTTP facades and the background supervisors. Persistent rows
// live in the store; everything here dies with the process.
package state

import (
	"sync"
	"time"
)

// FallbackUserAgent is used until the challenge-solver checker reports the
// solver's real browser identity.
const FallbackUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// HelperTimeout is how long the sponsor helper stays "active" after its last
// poll before manual solving takes over again.
const HelperTimeout = 5 * time.Minute

// Registry is the concurrency-safe shared state. A single instance is created
// in main and injected into every component that needs it.
type Registry struct {
	mu sync.RWMutex

	internalAddress string
	externalAddress string
	userAgent       string

	flaresolverrURL       string
	flaresolverrAvailable bool

	helperActive   bool
	helperLastSeen time.Time
}

func NewRegistry() *Registry {
	return &Registry{userAgent: FallbackUserAgent}
}

// SetAddresses records the internal (bind) and external (client-facing) base
// URLs used when building self-links.
func (r *Registry) SetAddresses(internal, external string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.internalAddress = internal
	r.externalAddress = external
}

func (r *Registry) InternalAddress() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.internalAddress
}

func (r *Registry) ExternalAddress() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.externalAddress != "" {
		return r.externalAddress
	}
	return r.internalAddress
}

// SetUserAgent stores the effective outbound user agent (usually the one the
// challenge solver reports).
func (r *Registry) SetUserAgent(ua string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ua != "" {
		r.userAgent = ua
	}
}

func (r *Registry) UserAgent() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userAgent
}

// SetFlaresolverr records the configured solver URL and whether the startup
// ping succeeded.
func (r *Registry) SetFlaresolverr(url string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flaresolverrURL = url
	r.flaresolverrAvailable = available
}

func (r *Registry) FlaresolverrURL() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flaresolverrURL
}

func (r *Registry) FlaresolverrAvailable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flaresolverrAvailable
}

// MarkHelperSeen records sponsor-helper activity. Called by the poll route.
func (r *Registry) MarkHelperSeen(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.helperActive = true
	r.helperLastSeen = now
}

// SetHelperActive toggles the helper flag explicitly (set_sponsor_status).
func (r *Registry) SetHelperActive(active bool, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.helperActive = active
	if active {
		r.helperLastSeen = now
	}
}

// HelperActive reports whether the helper has been heard from within the
// liveness window. A stale helper is demoted on read.
func (r *Registry) HelperActive(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.helperActive && now.Sub(r.helperLastSeen) > HelperTimeout {
		r.helperActive = false
	}
	return r.helperActive
}

func (r *Registry) HelperLastSeen() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.helperLastSeen
}
