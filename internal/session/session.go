// Package session orchestrates one authenticated chat session: connect,
// subscribe, heartbeat, and teardown on logout or revocation.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"nats-chat/go-client/internal/chatconfig"
	"nats-chat/go-client/internal/credential"
	"nats-chat/go-client/internal/metrics"
	"nats-chat/go-client/internal/presence"
	"nats-chat/go-client/internal/router"
	"nats-chat/go-client/internal/token"
	"nats-chat/go-client/internal/transport"
	"nats-chat/go-client/pkg/models"
)

var (
	ErrRevoked    = errors.New("session: credential was revoked")
	ErrNotActive  = errors.New("session: not active")
	ErrAlreadyRun = errors.New("session: already started")
)

// Session owns the transport connection exclusively. The router and
// presence tracker reach the wire only through its publish capability, so
// nothing can use a closed or stale connection.
type Session struct {
	cfg      chatconfig.Config
	identity models.Identity
	document credential.Document
	dial     transport.Dialer
	store    *credential.Store
	hub      *EventHub
	log      *slog.Logger

	presence *presence.Tracker
	router   *router.Router

	mu              sync.Mutex
	conn            transport.Conn
	state           string
	contextID       string
	heartbeatCancel context.CancelFunc
	heartbeatDone   sync.WaitGroup
}

// New builds a session from a stored credential document. The document is
// parsed here once; Start does the rest.
func New(cfg chatconfig.Config, document string, dial transport.Dialer, store *credential.Store, hub *EventHub, log *slog.Logger) (*Session, error) {
	identity, err := credential.Parse(document)
	if err != nil {
		return nil, err
	}
	doc, err := credential.Split(document)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewEventHub(256)
	}

	s := &Session{
		cfg:      cfg,
		identity: identity,
		document: doc,
		dial:     dial,
		store:    store,
		hub:      hub,
		log:      log,
		presence: presence.NewTracker(),
		state:    models.SessionUnauthenticated,
	}
	if len(cfg.Channels) > 0 {
		s.contextID = cfg.Channels[0]
	}
	s.router = router.New(cfg, identity, s, s.presence)
	s.router.SetOnUpdate(func(contextID string) {
		hub.Publish(EventLogUpdate, contextID)
	})
	return s, nil
}

func (s *Session) Identity() models.Identity { return s.identity }
func (s *Session) Router() *router.Router    { return s.router }
func (s *Session) Events() *EventHub         { return s.hub }

func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SelectContext switches the active conversation context (a channel name
// or a DM counterpart) and returns its current log snapshot.
func (s *Session) SelectContext(contextID string) []models.ChatMessage {
	s.mu.Lock()
	s.contextID = contextID
	s.mu.Unlock()
	return s.router.Log(contextID)
}

// CurrentContext returns the active conversation context.
func (s *Session) CurrentContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextID
}

// Directory exposes the current presence snapshot.
func (s *Session) Directory() map[string]models.PresenceRecord {
	return s.presence.Directory()
}

// Publish is the capability handed to the router. It refuses to touch the
// wire once the session has ended.
func (s *Session) Publish(subject string, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()
	if state != models.SessionActive || conn == nil {
		return ErrNotActive
	}
	return conn.Publish(subject, data)
}

// Start connects with the stored credential, subscribes to every chat
// subject, and begins the heartbeat loop. It returns once the session is
// live; ctx cancellation stops the heartbeat loop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return ErrAlreadyRun
	}
	s.mu.Unlock()

	conn, err := s.dial(transport.DialConfig{
		URL:           s.cfg.ServerURL,
		Name:          s.cfg.ClientName,
		UserJWT:       s.document.JWT,
		Seed:          s.document.Seed,
		OnServerClose: s.handleServerClose,
	})
	if err != nil {
		return err
	}

	// One dispatch closure per configured channel; the closure captures
	// the channel so a single handler shape serves the whole closed set.
	for _, channel := range s.cfg.Channels {
		ch := channel
		err = conn.Subscribe(s.cfg.PostSubject(ch), func(_ string, data []byte) {
			if claims, ok := s.verify(data); ok {
				s.router.HandleChannelMessage(ch, claims)
			}
		})
		if err != nil {
			conn.Close()
			return err
		}
	}

	err = conn.Subscribe(s.cfg.OnlineSubject(), func(_ string, data []byte) {
		claims, ok := s.verify(data)
		if !ok || claims.Chat.Type != token.TypeOnline {
			return
		}
		dir := s.presence.OnHeartbeat(claims)
		metrics.OnlineUsers.Set(float64(len(dir)))
		s.hub.Publish(EventPresenceUpdate, dir)
	})
	if err != nil {
		conn.Close()
		return err
	}

	err = conn.Subscribe(s.cfg.DirectSubject(s.identity.PublicKey), func(_ string, data []byte) {
		if claims, ok := s.verify(data); ok {
			s.router.HandleDirectMessage(claims)
		}
	})
	if err != nil {
		conn.Close()
		return err
	}

	hbCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.conn = conn
	s.state = models.SessionActive
	s.heartbeatCancel = cancel
	s.mu.Unlock()
	s.hub.Publish(EventSessionState, models.SessionActive)

	// Announce presence immediately, then on the fixed cadence.
	if err := s.publishHeartbeat(); err != nil {
		s.log.Warn("initial heartbeat failed", "error", err)
	}
	s.heartbeatDone.Add(1)
	go s.heartbeatLoop(hbCtx)

	s.log.Info("session started", "username", s.identity.Name)
	return nil
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	defer s.heartbeatDone.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.publishHeartbeat(); err != nil {
				if errors.Is(err, ErrNotActive) {
					return
				}
				s.log.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (s *Session) publishHeartbeat() error {
	now := time.Now()
	claims := token.Claims{
		ID:       uuid.NewString(),
		Issuer:   s.identity.PublicKey,
		IssuedAt: now.Unix(),
		Expires:  now.Add(s.cfg.PresenceTTL).Unix(),
		Name:     s.identity.Name,
		Subject:  s.identity.PublicKey,
		Chat:     token.ChatClaims{Type: token.TypeOnline, Version: token.Version},
	}
	tok, err := token.Sign(s.identity.SigningSeed, claims)
	if err != nil {
		return err
	}
	if err := s.Publish(s.cfg.OnlineSubject(), []byte(tok)); err != nil {
		return err
	}
	metrics.MessagesPublished.WithLabelValues(token.TypeOnline).Inc()
	return nil
}

// verify is the single admission gate for network input. A failure drops
// the one envelope and never the session.
func (s *Session) verify(data []byte) (token.Claims, bool) {
	claims, err := token.Verify(string(data))
	if err != nil {
		metrics.EnvelopesRejected.WithLabelValues(metrics.RejectReason(err)).Inc()
		s.log.Warn("dropping unverifiable envelope", "error", err)
		return token.Claims{}, false
	}
	metrics.EnvelopesVerified.WithLabelValues(claims.Chat.Type).Inc()
	return claims, true
}

// handleServerClose fires when the server closes the connection
// out-of-band. That closure is the revocation signal: wipe the credential
// and mark the session terminal.
func (s *Session) handleServerClose(cause error) {
	s.mu.Lock()
	if s.state != models.SessionActive {
		s.mu.Unlock()
		return
	}
	cancel := s.heartbeatCancel
	s.state = models.SessionRevoked
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.heartbeatDone.Wait()
	s.wipe()

	s.log.Warn("session revoked", "cause", fmt.Sprint(cause))
	s.hub.Publish(EventSessionState, models.SessionRevoked)
}

// Stop is the operator-initiated teardown. Same wipe as revocation, but
// the resulting state is unauthenticated rather than terminal.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != models.SessionActive {
		s.mu.Unlock()
		return
	}
	cancel := s.heartbeatCancel
	conn := s.conn
	s.state = models.SessionUnauthenticated
	s.conn = nil
	s.mu.Unlock()

	// Heartbeat must be gone before the credential is wiped so nothing
	// signs after logout.
	if cancel != nil {
		cancel()
	}
	s.heartbeatDone.Wait()
	if conn != nil {
		conn.Close()
	}
	s.wipe()

	s.log.Info("session stopped")
	s.hub.Publish(EventSessionState, models.SessionUnauthenticated)
}

func (s *Session) wipe() {
	if s.store != nil {
		if err := s.store.Clear(); err != nil {
			s.log.Warn("clearing stored credential failed", "error", err)
		}
	}
	s.identity.Wipe()
	s.document = credential.Document{}
}
