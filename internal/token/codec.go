// Package token implements the signed envelope format carried on every
// chat subject: three dot-joined base64url segments (header, payload,
// signature) signed with the sender's user nkey.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nkeys"
)

const (
	// Algorithm identifies the only signing scheme this codec accepts.
	Algorithm = "ed25519-nkey"

	// Version is the chat payload version stamped into every envelope.
	Version = 2
)

// Chat envelope types.
const (
	TypePost   = "chat-post"
	TypeDirect = "chat-dm"
	TypeOnline = "chat-online"
)

var (
	ErrMalformedToken       = errors.New("token: malformed token")
	ErrUnsupportedAlgorithm = errors.New("token: unsupported algorithm")
	ErrInvalidSignature     = errors.New("token: invalid signature")
)

type header struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
}

// ChatClaims is the chat-specific claim block nested under "nats".
type ChatClaims struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
	Message string `json:"msg,omitempty"`
}

// Claims is the envelope payload. Issuer doubles as the verification key:
// receivers trust an envelope only after its signature checks out against
// the public key embedded here.
type Claims struct {
	ID       string     `json:"jti"`
	Issuer   string     `json:"iss"`
	IssuedAt int64      `json:"iat"`
	Expires  int64      `json:"exp,omitempty"`
	Name     string     `json:"name"`
	Subject  string     `json:"sub"`
	Chat     ChatClaims `json:"nats"`
}

// Sign serializes claims into a three-part envelope signed with the Ed25519
// keypair derived from seed. Deterministic for identical inputs.
func Sign(seed []byte, claims Claims) (string, error) {
	kp, err := nkeys.FromSeed(seed)
	if err != nil {
		return "", fmt.Errorf("token: bad signing seed: %w", err)
	}
	defer kp.Wipe()

	rawHeader, err := json.Marshal(header{Type: "JWT", Algorithm: Algorithm})
	if err != nil {
		return "", err
	}
	rawClaims, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	signingInput := encodeSegment(rawHeader) + "." + encodeSegment(rawClaims)
	sig, err := kp.Sign([]byte(signingInput))
	if err != nil {
		return "", fmt.Errorf("token: sign failed: %w", err)
	}
	return signingInput + "." + encodeSegment(sig), nil
}

// Verify decodes tok and checks its signature against the public key in the
// iss claim. Every envelope received over the transport goes through here.
func Verify(tok string) (Claims, error) {
	parts := strings.Split(strings.TrimSpace(tok), ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("%w: got %d segments, want 3", ErrMalformedToken, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return Claims{}, fmt.Errorf("%w: empty segment", ErrMalformedToken)
		}
	}

	rawHeader, err := decodeSegment(parts[0])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	var h header
	if err := json.Unmarshal(rawHeader, &h); err != nil {
		return Claims{}, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	if h.Algorithm != Algorithm {
		return Claims{}, fmt.Errorf("%w: got %q, want %q", ErrUnsupportedAlgorithm, h.Algorithm, Algorithm)
	}

	claims, err := decodeClaims(parts[1])
	if err != nil {
		return Claims{}, err
	}

	pub, err := nkeys.FromPublicKey(claims.Issuer)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: issuer is not a valid public key", ErrInvalidSignature)
	}
	sig, err := decodeSegment(parts[2])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: signature segment: %v", ErrMalformedToken, err)
	}
	if err := pub.Verify([]byte(parts[0]+"."+parts[1]), sig); err != nil {
		return Claims{}, ErrInvalidSignature
	}
	return claims, nil
}

// Decode extracts the payload without checking the signature. It exists for
// exactly one caller: parsing the user's own credential document, which the
// user already trusts. Network input must go through Verify instead.
func Decode(tok string) (Claims, error) {
	parts := strings.Split(strings.TrimSpace(tok), ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("%w: got %d segments, want 3", ErrMalformedToken, len(parts))
	}
	return decodeClaims(parts[1])
}

func decodeClaims(seg string) (Claims, error) {
	raw, err := decodeSegment(seg)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

func encodeSegment(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// decodeSegment accepts both padded and unpadded base64url; the issuing
// service pads, browser-era clients did not.
func decodeSegment(seg string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
}
