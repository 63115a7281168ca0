// Package metrics exposes Prometheus instrumentation for the protocol
// core.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"nats-chat/go-client/internal/token"
)

var (
	// Envelope verification
	EnvelopesVerified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "natschat_envelopes_verified_total",
			Help: "Envelopes that passed signature verification",
		},
		[]string{"type"}, // chat-post, chat-dm, chat-online
	)

	EnvelopesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "natschat_envelopes_rejected_total",
			Help: "Envelopes dropped before dispatch",
		},
		[]string{"reason"}, // malformed, bad_alg, bad_signature
	)

	// Outbound traffic
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "natschat_messages_published_total",
			Help: "Signed envelopes published to the transport",
		},
		[]string{"type"},
	)

	// Presence
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "natschat_online_users",
			Help: "Entries in the presence directory after the last update",
		},
	)

	// Provisioning service
	UsersProvisioned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "natschat_users_provisioned_total",
			Help: "Credentials minted by the access service",
		},
	)

	UsersRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "natschat_users_revoked_total",
			Help: "Credentials revoked by the access service",
		},
	)

	RateLimitedRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "natschat_rate_limited_requests_total",
			Help: "Provisioning requests refused by the rate limiter",
		},
	)
)

// RejectReason maps a codec error to a rejection label.
func RejectReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, token.ErrUnsupportedAlgorithm):
		return "bad_alg"
	case errors.Is(err, token.ErrInvalidSignature):
		return "bad_signature"
	default:
		return "malformed"
	}
}
