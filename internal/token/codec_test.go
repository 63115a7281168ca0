package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nkeys"
)

func newTestUser(t *testing.T) (seed []byte, pub string) {
	t.Helper()
	kp, err := nkeys.CreateUser()
	if err != nil {
		t.Fatalf("create user keypair: %v", err)
	}
	seed, err = kp.Seed()
	if err != nil {
		t.Fatalf("export seed: %v", err)
	}
	pub, err = kp.PublicKey()
	if err != nil {
		t.Fatalf("export public key: %v", err)
	}
	return seed, pub
}

func testClaims(pub string) Claims {
	return Claims{
		ID:       "11111111-2222-3333-4444-555555555555",
		Issuer:   pub,
		IssuedAt: time.Now().Unix(),
		Name:     "alice",
		Subject:  "General",
		Chat: ChatClaims{
			Type:    TypePost,
			Version: Version,
			Message: "hello there",
		},
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	seed, pub := newTestUser(t)
	want := testClaims(pub)

	tok, err := Sign(seed, want)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	got, err := Verify(tok)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if got != want {
		t.Fatalf("claims mismatch: got %+v, want %+v", got, want)
	}
}

func TestSignIsDeterministic(t *testing.T) {
	seed, pub := newTestUser(t)
	claims := testClaims(pub)

	first, err := Sign(seed, claims)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	second, err := Sign(seed, claims)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if first != second {
		t.Fatal("identical inputs produced different tokens")
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	seed, pub := newTestUser(t)
	tok, err := Sign(seed, testClaims(pub))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	parts := strings.Split(tok, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := Verify(tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("got %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	seed, pub := newTestUser(t)
	tok, err := Sign(seed, testClaims(pub))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	forged := testClaims(pub)
	forged.Chat.Message = "attacker text"
	forgedTok, err := Sign(seed, forged)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	parts := strings.Split(tok, ".")
	forgedParts := strings.Split(forgedTok, ".")
	spliced := parts[0] + "." + forgedParts[1] + "." + parts[2]

	if _, err := Verify(spliced); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("got %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyRejectsWrongSegmentCount(t *testing.T) {
	seed, pub := newTestUser(t)
	tok, err := Sign(seed, testClaims(pub))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	cases := []struct {
		name string
		tok  string
	}{
		{"empty", ""},
		{"one segment", "abc"},
		{"two segments", "abc.def"},
		{"four segments", tok + ".extra"},
		{"empty middle", strings.Split(tok, ".")[0] + ".." + strings.Split(tok, ".")[2]},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Verify(tc.tok); !errors.Is(err, ErrMalformedToken) {
				t.Fatalf("got %v, want ErrMalformedToken", err)
			}
		})
	}
}

func TestVerifyRejectsUnknownAlgorithm(t *testing.T) {
	seed, pub := newTestUser(t)
	tok, err := Sign(seed, testClaims(pub))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	badHeader := encodeSegment([]byte(`{"typ":"JWT","alg":"HS256"}`))
	parts := strings.Split(tok, ".")
	forged := badHeader + "." + parts[1] + "." + parts[2]

	if _, err := Verify(forged); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("got %v, want ErrUnsupportedAlgorithm", err)
	}
}

func TestVerifyRejectsSubstitutedIssuer(t *testing.T) {
	seed, _ := newTestUser(t)
	_, otherPub := newTestUser(t)

	// Claims name someone else's key; the signature cannot match it.
	claims := testClaims(otherPub)
	tok, err := Sign(seed, claims)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := Verify(tok); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("got %v, want ErrInvalidSignature", err)
	}
}

func TestDecodeSkipsSignatureCheck(t *testing.T) {
	seed, pub := newTestUser(t)
	tok, err := Sign(seed, testClaims(pub))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	// Break the signature; Decode must still return the payload.
	parts := strings.Split(tok, ".")
	broken := parts[0] + "." + parts[1] + ".AAAA"

	claims, err := Decode(broken)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if claims.Name != "alice" || claims.Issuer != pub {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestDecodeAcceptsPaddedSegments(t *testing.T) {
	seed, pub := newTestUser(t)
	tok, err := Sign(seed, testClaims(pub))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	parts := strings.Split(tok, ".")
	padded := parts[0] + "." + parts[1] + "==." + parts[2]

	if _, err := Decode(padded); err != nil {
		t.Fatalf("decode rejected padded payload: %v", err)
	}
}
