package services

import (
	"time"

	"github.com/lordvitaly/lvchat/internal/store"
)

// Namespaces served by the API.
const (
	NamespaceSessions           = "init"
	NamespaceBlobs              = "blobs"
	NamespaceCharacters         = "characters"
	NamespaceCharacterSnapshots = "character_snapshots"
	NamespaceSettings           = "settings"
)

// DefaultPolicies returns the storage policy of every namespace the API needs.
// sweepInterval enables the pre-write sweep on the expiring namespaces. Only
// session documents carry their own expires_at; in the other namespaces it is
// plain user data.
func DefaultPolicies(sweepInterval time.Duration) []store.Policy {
	return []store.Policy{
		{Name: NamespaceSessions, TTL: time.Hour, StampValue: true, EmbeddedExpiry: true, SweepInterval: sweepInterval},
		{Name: NamespaceBlobs, TTL: 24 * time.Hour, SweepInterval: sweepInterval},
		{Name: NamespaceCharacters, TTL: store.NoExpiry},
		{Name: NamespaceCharacterSnapshots, TTL: store.NoExpiry},
		{Name: NamespaceSettings, TTL: store.NoExpiry},
	}
}

// Set groups the services behind the HTTP API.
type Set struct {
	Sessions   *DocumentService
	Blobs      *DocumentService
	Characters *CharacterService
	Settings   *SettingsService
}

// NewSet builds every service on top of the namespaces in reg.
func NewSet(reg *store.Registry, opts ...Option) (*Set, error) {
	lookup := func(names ...string) ([]*store.Namespace, error) {
		out := make([]*store.Namespace, 0, len(names))
		for _, name := range names {
			ns, err := reg.Namespace(name)
			if err != nil {
				return nil, err
			}
			out = append(out, ns)
		}
		return out, nil
	}

	spaces, err := lookup(NamespaceSessions, NamespaceBlobs, NamespaceCharacters, NamespaceCharacterSnapshots, NamespaceSettings)
	if err != nil {
		return nil, err
	}

	sessions, err := NewSessionService(spaces[0])
	if err != nil {
		return nil, err
	}
	blobs, err := NewBlobService(spaces[1])
	if err != nil {
		return nil, err
	}
	characters, err := NewCharacterService(spaces[2], spaces[3])
	if err != nil {
		return nil, err
	}
	settings, err := NewSettingsService(spaces[4], opts...)
	if err != nil {
		return nil, err
	}

	return &Set{
		Sessions:   sessions,
		Blobs:      blobs,
		Characters: characters,
		Settings:   settings,
	}, nil
}
