package server

import (
	"fmt"
	"sync"

	"github.com/ashita-ai/saitei/internal/security"
)

// KeyIdentity is the identity minted into a JWT after a successful API key
// exchange. Agent ids are stored tenant-scoped ("{tenant}:{raw}").
type KeyIdentity struct {
	AgentID     string
	TenantID    string
	Roles       []string
	Permissions []string
}

// KeyRegistry maps agent ids to Argon2id API key hashes. It backs the
// POST /auth/token exchange; keys are registered at startup (admin
// bootstrap) or through the embedding API.
type KeyRegistry struct {
	mu   sync.RWMutex
	keys map[string]keyRecord // agent id -> record
}

type keyRecord struct {
	hash     string
	identity KeyIdentity
}

// NewKeyRegistry creates an empty registry.
func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{keys: make(map[string]keyRecord)}
}

// Register hashes apiKey and stores it for the identity's agent id.
// Re-registering an agent id replaces its key.
func (kr *KeyRegistry) Register(apiKey string, identity KeyIdentity) error {
	if identity.AgentID == "" {
		return fmt.Errorf("server: agent id must not be empty")
	}
	hash, err := security.HashAPIKey(apiKey)
	if err != nil {
		return err
	}

	kr.mu.Lock()
	kr.keys[identity.AgentID] = keyRecord{hash: hash, identity: identity}
	kr.mu.Unlock()
	return nil
}

// Verify checks apiKey against the stored hash for agentID. On any failure
// path where no real hash was compared, a dummy hash runs with the same cost
// so response timing does not reveal whether the agent exists.
func (kr *KeyRegistry) Verify(agentID, apiKey string) (KeyIdentity, bool) {
	kr.mu.RLock()
	rec, ok := kr.keys[agentID]
	kr.mu.RUnlock()

	if !ok {
		security.DummyVerify()
		return KeyIdentity{}, false
	}

	valid, err := security.VerifyAPIKey(apiKey, rec.hash)
	if err != nil || !valid {
		return KeyIdentity{}, false
	}
	return rec.identity, true
}

// Revoke removes an agent's key.
func (kr *KeyRegistry) Revoke(agentID string) {
	kr.mu.Lock()
	delete(kr.keys, agentID)
	kr.mu.Unlock()
}
