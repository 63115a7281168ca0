// Package router maps chat intents to transport subjects and maintains the
// per-conversation message logs.
package router

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"nats-chat/go-client/internal/chatconfig"
	"nats-chat/go-client/internal/metrics"
	"nats-chat/go-client/internal/token"
	"nats-chat/go-client/pkg/models"
)

var (
	ErrRecipientUnavailable = errors.New("router: recipient is not online")
	ErrUnknownChannel       = errors.New("router: unknown channel")
)

// Publisher is the session's publish capability. The router never holds
// the connection itself.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Resolver maps an online username to a public key.
type Resolver interface {
	Resolve(username string) (publicKey string, ok bool)
}

// Router signs outgoing envelopes and appends verified incoming ones to
// conversation logs keyed by channel name or DM counterpart. Logs are
// newest-first and copy-on-write: an appended log is a fresh slice, so a
// snapshot handed to the presentation layer never changes underneath it.
type Router struct {
	cfg      chatconfig.Config
	identity models.Identity
	pub      Publisher
	presence Resolver

	mu       sync.RWMutex
	logs     map[string][]models.ChatMessage
	onUpdate func(contextID string)

	now   func() time.Time
	newID func() string
}

func New(cfg chatconfig.Config, identity models.Identity, pub Publisher, presence Resolver) *Router {
	return &Router{
		cfg:      cfg,
		identity: identity,
		pub:      pub,
		presence: presence,
		logs:     make(map[string][]models.ChatMessage),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetOnUpdate installs a hook invoked after a log changes, outside the
// router lock.
func (r *Router) SetOnUpdate(fn func(contextID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUpdate = fn
}

// PostToChannel signs a chat-post envelope and publishes it to the
// channel's subject. The local log is not touched here: the broker echoes
// the post back on the subscription and that single path appends it.
func (r *Router) PostToChannel(channel, text string) error {
	if !r.cfg.HasChannel(channel) {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}

	claims := r.newClaims(channel, token.TypePost, text)
	tok, err := token.Sign(r.identity.SigningSeed, claims)
	if err != nil {
		return err
	}
	if err := r.pub.Publish(r.cfg.PostSubject(channel), []byte(tok)); err != nil {
		return err
	}
	metrics.MessagesPublished.WithLabelValues(token.TypePost).Inc()
	return nil
}

// SendDirect resolves the recipient through the presence directory and
// publishes a chat-dm envelope to their key-scoped subject. The plaintext
// is also appended to the local log under the recipient's name, except
// when the message is addressed to ourselves: our own DM subscription
// already delivers it, and a second append would duplicate the entry.
// Self-comparison is by public key, not display name, so a contact who
// happens to share our name still gets a local echo.
func (r *Router) SendDirect(username, text string) error {
	recipientKey, ok := r.presence.Resolve(username)
	if !ok {
		return fmt.Errorf("%w: %q", ErrRecipientUnavailable, username)
	}

	claims := r.newClaims(username, token.TypeDirect, text)
	tok, err := token.Sign(r.identity.SigningSeed, claims)
	if err != nil {
		return err
	}
	if err := r.pub.Publish(r.cfg.DirectSubject(recipientKey), []byte(tok)); err != nil {
		return err
	}
	metrics.MessagesPublished.WithLabelValues(token.TypeDirect).Inc()

	if recipientKey != r.identity.PublicKey {
		r.append(username, claims)
	}
	return nil
}

// HandleChannelMessage appends one verified channel envelope to that
// channel's log.
func (r *Router) HandleChannelMessage(channel string, claims token.Claims) {
	r.append(channel, claims)
}

// HandleDirectMessage appends one verified DM to the log keyed by the
// sender's display name, so a reply thread groups under the counterpart
// regardless of direction.
func (r *Router) HandleDirectMessage(claims token.Claims) {
	r.append(claims.Name, claims)
}

// Log returns the newest-first message log for one context.
func (r *Router) Log(contextID string) []models.ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logs[contextID]
}

// Logs returns the current log map snapshot.
func (r *Router) Logs() map[string][]models.ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logs
}

func (r *Router) newClaims(subject, chatType, text string) token.Claims {
	return token.Claims{
		ID:       r.newID(),
		Issuer:   r.identity.PublicKey,
		IssuedAt: r.now().Unix(),
		Name:     r.identity.Name,
		Subject:  subject,
		Chat: token.ChatClaims{
			Type:    chatType,
			Version: token.Version,
			Message: text,
		},
	}
}

func (r *Router) append(contextID string, claims token.Claims) {
	msg := models.ChatMessage{
		ID:       claims.ID,
		Username: claims.Name,
		Time:     time.Unix(claims.IssuedAt, 0),
		Text:     claims.Chat.Message,
	}

	r.mu.Lock()
	prev := r.logs[contextID]
	next := make([]models.ChatMessage, 0, len(prev)+1)
	next = append(next, msg)
	next = append(next, prev...)

	logs := make(map[string][]models.ChatMessage, len(r.logs)+1)
	for k, v := range r.logs {
		logs[k] = v
	}
	logs[contextID] = next
	r.logs = logs
	notify := r.onUpdate
	r.mu.Unlock()

	if notify != nil {
		notify(contextID)
	}
}
