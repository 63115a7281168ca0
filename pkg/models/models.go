package models

import (
	"strings"
	"time"
)

// Session states surfaced to the presentation layer.
const (
	SessionUnauthenticated = "unauthenticated"
	SessionActive          = "active"
	SessionRevoked         = "revoked"
)

// Identity is the local user: a display name, the user nkey public key, and
// the signing seed. The seed never leaves the process.
type Identity struct {
	Name        string
	PublicKey   string
	SigningSeed []byte
}

// Wipe zeroes the signing seed in place.
func (i *Identity) Wipe() {
	for n := range i.SigningSeed {
		i.SigningSeed[n] = 0
	}
	i.SigningSeed = nil
}

// PresenceRecord is one online user as asserted by a verified heartbeat.
type PresenceRecord struct {
	PublicKey string    `json:"public_key"`
	Username  string    `json:"username"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChatMessage is one rendered log entry derived from a verified envelope.
type ChatMessage struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Time     time.Time `json:"time"`
	Text     string    `json:"text"`
}

// StoredCredential is the single persisted record: the raw credential
// document plus the remembered username. Its presence on disk is the sole
// "already authenticated" signal at startup.
type StoredCredential struct {
	Document string `json:"document"`
	Username string `json:"username"`
}

// NormalizeUsername applies the provisioning service's naming rule: first
// word, lower case, truncated to maxLen.
func NormalizeUsername(raw string, maxLen int) string {
	name := strings.Split(strings.ToLower(strings.TrimSpace(raw)), " ")[0]
	if maxLen > 0 && len(name) > maxLen {
		name = name[:maxLen]
	}
	return name
}
