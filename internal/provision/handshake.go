// Package provision drives the trust-escalation handshake that turns a
// chosen username into a durable signed credential: connect with the
// restricted bootstrap credential, request a real one, reconnect with it.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"nats-chat/go-client/internal/chatconfig"
	"nats-chat/go-client/internal/credential"
	"nats-chat/go-client/internal/transport"
	"nats-chat/go-client/pkg/models"
)

// Handshake states, in order. Any failure returns the machine to
// StateBootstrapped; there is no automatic retry.
const (
	StateBootstrapped = "bootstrapped"
	StateRequested    = "requested"
	StateIssued       = "issued"
	StateActive       = "active"
)

var ErrRegistrationFailed = errors.New("provision: registration failed")

// Handshake performs the three-step credential exchange and persists the
// result. One Handshake handles one registration attempt at a time.
type Handshake struct {
	cfg            chatconfig.Config
	bootstrapCreds string
	dial           transport.Dialer
	store          *credential.Store
	log            *slog.Logger

	mu    sync.Mutex
	state string
}

func New(cfg chatconfig.Config, bootstrapCreds string, dial transport.Dialer, store *credential.Store, log *slog.Logger) *Handshake {
	if log == nil {
		log = slog.Default()
	}
	return &Handshake{
		cfg:            cfg,
		bootstrapCreds: bootstrapCreds,
		dial:           dial,
		store:          store,
		log:            log,
		state:          StateBootstrapped,
	}
}

func (h *Handshake) State() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handshake) setState(s string) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Register runs the full handshake for username. On success the issued
// credential document and username are persisted and the parsed identity
// is returned. On any failure nothing is persisted and the caller must
// restart from the bootstrap state.
func (h *Handshake) Register(ctx context.Context, username string) (models.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return models.Identity{}, fmt.Errorf("%w: username is empty", ErrRegistrationFailed)
	}

	id, err := h.register(ctx, username)
	if err != nil {
		h.setState(StateBootstrapped)
		h.log.Warn("registration failed", "error", err)
		return models.Identity{}, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}
	return id, nil
}

func (h *Handshake) register(ctx context.Context, username string) (models.Identity, error) {
	bootDoc, err := credential.Split(h.bootstrapCreds)
	if err != nil {
		return models.Identity{}, fmt.Errorf("bootstrap credential: %w", err)
	}

	// Step 1: connect with the bootstrap credential. Its only permitted
	// action is the access request below.
	conn, err := h.dial(transport.DialConfig{
		URL:     h.cfg.ServerURL,
		Name:    h.cfg.ClientName,
		UserJWT: bootDoc.JWT,
		Seed:    bootDoc.Seed,
	})
	if err != nil {
		return models.Identity{}, err
	}

	// Step 2: ask the provisioning service for a real credential.
	h.setState(StateRequested)
	reqCtx, cancel := context.WithTimeout(ctx, h.cfg.RequestTimeout)
	reply, err := conn.Request(reqCtx, chatconfig.AccessRequestSubject, []byte(username))
	cancel()
	if err != nil {
		conn.Close()
		return models.Identity{}, err
	}

	document := string(reply)
	if strings.HasPrefix(document, "-ERR") {
		conn.Close()
		return models.Identity{}, fmt.Errorf("service refused: %s", strings.TrimSpace(document))
	}
	identity, err := credential.Parse(document)
	if err != nil {
		conn.Close()
		return models.Identity{}, fmt.Errorf("reply is not a credential document: %w", err)
	}
	h.setState(StateIssued)

	// Step 3: drop the bootstrap connection and prove the issued
	// credential works by reconnecting with it.
	conn.Close()
	issuedDoc, err := credential.Split(document)
	if err != nil {
		return models.Identity{}, err
	}
	verifyConn, err := h.dial(transport.DialConfig{
		URL:     h.cfg.ServerURL,
		Name:    h.cfg.ClientName,
		UserJWT: issuedDoc.JWT,
		Seed:    issuedDoc.Seed,
	})
	if err != nil {
		return models.Identity{}, fmt.Errorf("issued credential rejected: %w", err)
	}
	verifyConn.Close()

	if err := h.store.Save(document, username); err != nil {
		return models.Identity{}, fmt.Errorf("persist credential: %w", err)
	}
	h.setState(StateActive)
	h.log.Info("registered", "username", username)
	return identity, nil
}
