// Package credential resolves and loads the client certificates used to
// authenticate against the distribution service.
package credential

import (
	"context"
	"strings"
	"sync"
)

// Credential locates a certificate and the passphrase protecting it
type Credential struct {
	Ref        string `mapstructure:"-"`
	Path       string `mapstructure:"path"`
	Passphrase string `mapstructure:"passphrase"`
}

// Store resolves a credential reference into a certificate location
type Store interface {
	Resolve(ctx context.Context, ref string) (Credential, error)
}

// StaticStore resolves references from an in-memory table, typically filled
// from the application configuration
type StaticStore struct {
	mu          sync.RWMutex
	credentials map[string]Credential
}

// NewStaticStore creates a store holding the given credentials
func NewStaticStore(creds map[string]Credential) *StaticStore {
	s := &StaticStore{credentials: make(map[string]Credential, len(creds))}
	for ref, c := range creds {
		s.Put(ref, c)
	}
	return s
}

// Put registers or replaces a credential
func (s *StaticStore) Put(ref string, c Credential) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	c.Ref = ref
	s.mu.Lock()
	s.credentials[ref] = c
	s.mu.Unlock()
}

// Resolve returns the credential registered under ref
func (s *StaticStore) Resolve(ctx context.Context, ref string) (Credential, error) {
	key := strings.ToLower(strings.TrimSpace(ref))
	s.mu.RLock()
	c, ok := s.credentials[key]
	s.mu.RUnlock()
	if !ok {
		return Credential{}, ErrUnknownRef(ref)
	}
	return c, nil
}
