package router

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nkeys"

	"nats-chat/go-client/internal/chatconfig"
	"nats-chat/go-client/internal/token"
	"nats-chat/go-client/internal/transport"
	"nats-chat/go-client/pkg/models"
)

type staticResolver map[string]string

func (r staticResolver) Resolve(username string) (string, bool) {
	pub, ok := r[username]
	return pub, ok
}

func newTestIdentity(t *testing.T, name string) models.Identity {
	t.Helper()
	kp, err := nkeys.CreateUser()
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	seed, err := kp.Seed()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	pub, err := kp.PublicKey()
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return models.Identity{Name: name, PublicKey: pub, SigningSeed: seed}
}

func newTestRouter(t *testing.T, presence Resolver) (*Router, *transport.Fake, models.Identity) {
	t.Helper()
	cfg := chatconfig.DefaultConfig()
	fake := transport.NewFake()
	fake.Loopback = false
	id := newTestIdentity(t, "alice")
	return New(cfg, id, fake, presence), fake, id
}

func TestPostToChannelPublishesSignedEnvelope(t *testing.T) {
	r, fake, id := newTestRouter(t, staticResolver{})

	if err := r.PostToChannel("General", "hi"); err != nil {
		t.Fatalf("post failed: %v", err)
	}

	published := fake.Published("chat.KUBECON.posts.General")
	if len(published) != 1 {
		t.Fatalf("got %d publishes, want 1", len(published))
	}
	claims, err := token.Verify(string(published[0]))
	if err != nil {
		t.Fatalf("published envelope does not verify: %v", err)
	}
	if claims.Issuer != id.PublicKey || claims.Subject != "General" || claims.Chat.Message != "hi" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Chat.Type != token.TypePost || claims.Chat.Version != token.Version {
		t.Fatalf("unexpected chat block: %+v", claims.Chat)
	}
}

func TestPostToChannelRejectsUnknownChannel(t *testing.T) {
	r, fake, _ := newTestRouter(t, staticResolver{})

	if err := r.PostToChannel("Random", "hi"); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("got %v, want ErrUnknownChannel", err)
	}
	if fake.PublishedCount() != 0 {
		t.Fatal("rejected post still published")
	}
}

func TestPostDoesNotAppendLocally(t *testing.T) {
	r, _, _ := newTestRouter(t, staticResolver{})

	if err := r.PostToChannel("General", "hi"); err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if got := len(r.Log("General")); got != 0 {
		t.Fatalf("post appended %d entries locally; the echo path owns the append", got)
	}
}

func TestChannelEchoAppendsExactlyOnce(t *testing.T) {
	cfg := chatconfig.DefaultConfig()
	fake := transport.NewFake() // loopback on: broker echoes our own post
	id := newTestIdentity(t, "alice")
	r := New(cfg, id, fake, staticResolver{})

	// Subscribe the way the session does: verify, then hand to the router.
	err := fake.Subscribe(cfg.PostSubject("General"), func(_ string, data []byte) {
		claims, err := token.Verify(string(data))
		if err != nil {
			t.Fatalf("echo failed verification: %v", err)
		}
		r.HandleChannelMessage("General", claims)
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := r.PostToChannel("General", "hi"); err != nil {
		t.Fatalf("post failed: %v", err)
	}

	log := r.Log("General")
	if len(log) != 1 {
		t.Fatalf("got %d log entries, want exactly 1", len(log))
	}
	if log[0].Username != "alice" || log[0].Text != "hi" {
		t.Fatalf("unexpected entry: %+v", log[0])
	}
}

func TestSendDirectPublishesToRecipientKey(t *testing.T) {
	r, fake, _ := newTestRouter(t, staticResolver{"bob": "UBOBKEY"})

	if err := r.SendDirect("bob", "psst"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	published := fake.Published("chat.KUBECON.dms.UBOBKEY")
	if len(published) != 1 {
		t.Fatalf("got %d publishes, want 1", len(published))
	}
	claims, err := token.Verify(string(published[0]))
	if err != nil {
		t.Fatalf("published envelope does not verify: %v", err)
	}
	if claims.Subject != "bob" || claims.Chat.Type != token.TypeDirect {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	// Outgoing DM is echoed into the local log under the counterpart.
	log := r.Log("bob")
	if len(log) != 1 || log[0].Text != "psst" || log[0].Username != "alice" {
		t.Fatalf("unexpected local log: %+v", log)
	}
}

func TestSendDirectToOfflineUserFails(t *testing.T) {
	r, fake, _ := newTestRouter(t, staticResolver{})

	if err := r.SendDirect("ghost", "hello?"); !errors.Is(err, ErrRecipientUnavailable) {
		t.Fatalf("got %v, want ErrRecipientUnavailable", err)
	}
	if fake.PublishedCount() != 0 {
		t.Fatal("failed send still published")
	}
	if len(r.Log("ghost")) != 0 {
		t.Fatal("failed send still appended locally")
	}
}

func TestSelfDirectMessageSuppressesLocalEcho(t *testing.T) {
	cfg := chatconfig.DefaultConfig()
	fake := transport.NewFake()
	fake.Loopback = false
	id := newTestIdentity(t, "alice")
	// The directory contains ourselves, the normal state while online.
	r := New(cfg, id, fake, staticResolver{"alice": id.PublicKey})

	if err := r.SendDirect("alice", "note to self"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if fake.PublishedCount() != 1 {
		t.Fatalf("got %d publishes, want 1", fake.PublishedCount())
	}
	// The local append is skipped; the DM subscription delivers the copy.
	if len(r.Log("alice")) != 0 {
		t.Fatal("self-DM appended locally; the subscription path owns it")
	}
}

func TestSameNameContactStillGetsLocalEcho(t *testing.T) {
	cfg := chatconfig.DefaultConfig()
	fake := transport.NewFake()
	fake.Loopback = false
	id := newTestIdentity(t, "alice")
	// A different user who shares our display name.
	r := New(cfg, id, fake, staticResolver{"alice": "UOTHERALICE"})

	if err := r.SendDirect("alice", "hello twin"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	log := r.Log("alice")
	if len(log) != 1 {
		t.Fatalf("suppression keyed on display name: got %d entries, want 1", len(log))
	}
}

func TestIncomingDirectMessageKeyedBySenderName(t *testing.T) {
	r, _, _ := newTestRouter(t, staticResolver{})

	r.HandleDirectMessage(token.Claims{
		ID:       "m1",
		Issuer:   "UBOBKEY",
		IssuedAt: time.Now().Unix(),
		Name:     "bob",
		Subject:  "alice",
		Chat:     token.ChatClaims{Type: token.TypeDirect, Version: token.Version, Message: "hey"},
	})

	log := r.Log("bob")
	if len(log) != 1 || log[0].Username != "bob" || log[0].Text != "hey" {
		t.Fatalf("unexpected log: %+v", log)
	}
}

func TestLogsAreNewestFirstAndCopyOnWrite(t *testing.T) {
	r, _, _ := newTestRouter(t, staticResolver{})

	first := token.Claims{ID: "m1", Name: "bob", IssuedAt: 100, Chat: token.ChatClaims{Message: "first"}}
	second := token.Claims{ID: "m2", Name: "bob", IssuedAt: 200, Chat: token.ChatClaims{Message: "second"}}

	r.HandleChannelMessage("General", first)
	snapshot := r.Log("General")
	r.HandleChannelMessage("General", second)

	if len(snapshot) != 1 || snapshot[0].ID != "m1" {
		t.Fatalf("earlier snapshot changed: %+v", snapshot)
	}
	log := r.Log("General")
	if len(log) != 2 || log[0].ID != "m2" || log[1].ID != "m1" {
		t.Fatalf("log not newest-first: %+v", log)
	}
}

func TestOnUpdateHookFires(t *testing.T) {
	r, _, _ := newTestRouter(t, staticResolver{})

	var updated []string
	r.SetOnUpdate(func(contextID string) { updated = append(updated, contextID) })

	r.HandleChannelMessage("NATS", token.Claims{ID: "m1", Name: "bob", Chat: token.ChatClaims{Message: "x"}})
	if len(updated) != 1 || updated[0] != "NATS" {
		t.Fatalf("unexpected update notifications: %v", updated)
	}
}
