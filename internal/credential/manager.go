package credential

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Default loading configuration
const (
	DefaultLoadTimeout = 10 * time.Second
	DefaultCacheTTL    = 15 * time.Minute
)

// Manager resolves credential references and loads their certificates,
// keeping decoded certificates for a while so that every page of a run does
// not decode the bundle again
type Manager struct {
	store   Store
	cache   *CertCache
	timeout time.Duration
	now     func() time.Time
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLoadTimeout bounds how long reading a certificate may take
func WithLoadTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithCacheTTL sets how long decoded certificates are reused
func WithCacheTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.cache = NewCertCache(d)
	}
}

// WithClock overrides the time source used for validity checks
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager over the given store
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		cache:   NewCertCache(DefaultCacheTTL),
		timeout: DefaultLoadTimeout,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Load resolves ref and returns a certificate valid right now
func (m *Manager) Load(ctx context.Context, ref string) (*Certificate, error) {
	cred, err := m.store.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(cred.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewCredentialError(ErrCodeNotFound, cred.Ref, fmt.Sprintf("certificate file not found: %s", cred.Path), err)
		}
		return nil, NewCredentialError(ErrCodeUnreadable, cred.Ref, fmt.Sprintf("certificate file unreadable: %s", cred.Path), err)
	}

	key := cacheKey(cred, info)
	cert, found := m.cache.Get(key)
	if !found {
		cert, err = m.read(ctx, cred)
		if err != nil {
			return nil, err
		}
		m.cache.Set(key, cert)
	}

	if err := cert.ValidAt(m.now()); err != nil {
		return nil, err
	}
	return cert, nil
}

func (m *Manager) read(ctx context.Context, cred Credential) (*Certificate, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	type result struct {
		cert *Certificate
		err  error
	}
	done := make(chan result, 1)
	go func() {
		cert, err := ReadCertificate(cred)
		done <- result{cert: cert, err: err}
	}()

	select {
	case r := <-done:
		return r.cert, r.err
	case <-ctx.Done():
		return nil, NewCredentialError(ErrCodeLoadTimeout, cred.Ref, "certificate load timed out", ctx.Err())
	}
}

// CertCache caches decoded certificates by file identity
type CertCache struct {
	mu      sync.RWMutex
	entries map[string]*certCacheEntry
	ttl     time.Duration
}

type certCacheEntry struct {
	cert      *Certificate
	expiresAt time.Time
}

// NewCertCache creates a new certificate cache
func NewCertCache(ttl time.Duration) *CertCache {
	return &CertCache{
		entries: make(map[string]*certCacheEntry),
		ttl:     ttl,
	}
}

// Get retrieves a cached certificate
func (c *CertCache) Get(key string) (*Certificate, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}

	return entry.cert, true
}

// Set caches a certificate
func (c *CertCache) Set(key string, cert *Certificate) {
	if cert == nil {
		return
	}

	c.mu.Lock()
	c.entries[key] = &certCacheEntry{
		cert:      cert,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Size returns the number of cached entries
func (c *CertCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cacheKey changes whenever the file is replaced on disk
func cacheKey(cred Credential, info os.FileInfo) string {
	return fmt.Sprintf("%s:%s:%d:%d", cred.Ref, cred.Path, info.Size(), info.ModTime().UnixNano())
}
