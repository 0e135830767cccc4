package group_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"chorus/internal/crypto"
	"chorus/internal/domain"
	"chorus/internal/engine"
	"chorus/internal/logging"
	"chorus/internal/services/group"
	"chorus/internal/store"
)

// fakeRelay is an in-memory stand-in for the relay: it routes envelopes the
// way the server does and pops reservations from a per-user credential list.
type fakeRelay struct {
	subs    map[domain.GroupID]map[domain.Username]struct{}
	inboxes map[domain.Username][]domain.Envelope

	creds map[domain.Username][]domain.PrekeyCredential
	spent []domain.ReservationID
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		subs:    make(map[domain.GroupID]map[domain.Username]struct{}),
		inboxes: make(map[domain.Username][]domain.Envelope),
		creds:   make(map[domain.Username][]domain.PrekeyCredential),
	}
}

func (f *fakeRelay) Send(_ context.Context, env domain.Envelope) error {
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().Unix()
	}
	switch env.Kind {
	case domain.KindApplication, domain.KindMembershipChange:
		for user := range f.subs[env.GroupID] {
			f.inboxes[user] = append(f.inboxes[user], env)
		}
	case domain.KindJoinTicket:
		f.inboxes[env.Target] = append(f.inboxes[env.Target], env)
	}
	return nil
}

func (f *fakeRelay) Subscribe(_ context.Context, gid domain.GroupID, user domain.Username) error {
	if f.subs[gid] == nil {
		f.subs[gid] = make(map[domain.Username]struct{})
	}
	f.subs[gid][user] = struct{}{}
	return nil
}

func (f *fakeRelay) Fetch(_ context.Context, user domain.Username, _ int) ([]domain.Envelope, error) {
	return append([]domain.Envelope(nil), f.inboxes[user]...), nil
}

func (f *fakeRelay) Ack(_ context.Context, user domain.Username, count int) error {
	if count >= len(f.inboxes[user]) {
		delete(f.inboxes, user)
	} else {
		f.inboxes[user] = f.inboxes[user][count:]
	}
	return nil
}

func (f *fakeRelay) Upload(_ context.Context, cred domain.PrekeyCredential) error {
	f.creds[cred.Owner] = append(f.creds[cred.Owner], cred)
	return nil
}

func (f *fakeRelay) Reserve(_ context.Context, target, _ domain.Username) (domain.ReservedCredential, error) {
	pool := f.creds[target]
	if len(pool) == 0 {
		return domain.ReservedCredential{}, domain.ErrPoolExhausted
	}
	cred := pool[len(pool)-1]
	f.creds[target] = pool[:len(pool)-1]
	return domain.ReservedCredential{
		Reservation: domain.Reservation{
			ID:           domain.ReservationID(fmt.Sprintf("rsv-%d", len(f.spent))),
			CredentialID: cred.ID,
			Target:       target,
		},
		Credential: cred,
	}, nil
}

func (f *fakeRelay) Spend(_ context.Context, id domain.ReservationID, _ domain.Username) error {
	f.spent = append(f.spent, id)
	return nil
}

func (f *fakeRelay) ListAvailable(_ context.Context, owner domain.Username) ([]domain.CredentialID, error) {
	var out []domain.CredentialID
	for _, c := range f.creds[owner] {
		out = append(out, c.ID)
	}
	return out, nil
}

var (
	_ domain.RouterClient   = (*fakeRelay)(nil)
	_ domain.RegistryClient = (*fakeRelay)(nil)
)

// user bundles one identity's service graph against the shared fake relay.
type user struct {
	id   domain.Identity
	pool domain.PoolStore
	svc  *group.Service
}

func newUser(t *testing.T, name string, relay *fakeRelay) *user {
	t.Helper()
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	id := domain.Identity{Name: domain.Username(name), SigPub: pub, SigPriv: priv}
	dir := t.TempDir()
	poolStore := store.NewPoolFileStore(dir)
	svc := group.New(id, engine.New(), relay, relay,
		store.NewGroupFileStore(dir), poolStore,
		store.NewSessionFileStore(dir, "pass"),
		logging.NewDiscard().GetLogger("group"))
	return &user{id: id, pool: poolStore, svc: svc}
}

// publishCredential mints a credential for u, keeps the private half in u's
// pool, and publishes the public half to the fake relay.
func publishCredential(t *testing.T, u *user, relay *fakeRelay) domain.CredentialID {
	t.Helper()
	pair, err := engine.New().NewCredential(u.id, time.Hour)
	if err != nil {
		t.Fatalf("NewCredential: %v", err)
	}
	pair.Status = domain.CredentialAvailable
	if err := u.pool.SaveCredential(pair); err != nil {
		t.Fatalf("SaveCredential: %v", err)
	}
	relay.creds[u.id.Name] = append(relay.creds[u.id.Name], pair.Credential)
	return pair.Credential.ID
}

// drain dispatches everything queued for u, returning delivered messages.
func drain(t *testing.T, u *user, relay *fakeRelay) []domain.IncomingMessage {
	t.Helper()
	ctx := context.Background()
	envs, _ := relay.Fetch(ctx, u.id.Name, 0)
	var out []domain.IncomingMessage
	for _, env := range envs {
		msg, err := u.svc.HandleEnvelope(ctx, env)
		if err != nil {
			t.Fatalf("HandleEnvelope (%s): %v", env.Kind, err)
		}
		if msg != nil {
			out = append(out, *msg)
		}
	}
	relay.Ack(ctx, u.id.Name, len(envs))
	return out
}

func TestInviteJoinAndMessageFlow(t *testing.T) {
	relay := newFakeRelay()
	alice := newUser(t, "alice", relay)
	bob := newUser(t, "bob", relay)
	ctx := context.Background()

	credID := publishCredential(t, bob, relay)

	sess, err := alice.svc.Create(ctx, "lunch")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := alice.svc.Invite(ctx, sess.ID(), "bob"); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if len(relay.spent) != 1 {
		t.Fatalf("reservation not spent: %v", relay.spent)
	}
	if sess.Generation() != 1 {
		t.Fatalf("originator at generation %d, want 1", sess.Generation())
	}

	// Bob receives the ticket and materializes the session.
	if msgs := drain(t, bob, relay); len(msgs) != 0 {
		t.Fatalf("join delivered %d messages", len(msgs))
	}
	bobSess, ok := bob.svc.Session(sess.ID())
	if !ok {
		t.Fatal("bob has no session after join")
	}
	if bobSess.Generation() != 1 || len(bobSess.Members()) != 2 {
		t.Fatalf("bob joined at generation %d, members %v",
			bobSess.Generation(), bobSess.Members())
	}

	// The consumed credential is marked spent in bob's local pool.
	pairs, _ := bob.pool.ListCredentials()
	for _, p := range pairs {
		if p.Credential.ID == credID && p.Status != domain.CredentialSpent {
			t.Fatalf("credential %s status %s, want spent", credID, p.Status)
		}
	}

	// Alice's own echoed record is a no-op.
	if msgs := drain(t, alice, relay); len(msgs) != 0 {
		t.Fatalf("self-echo delivered %d messages", len(msgs))
	}
	if sess.Generation() != 1 {
		t.Fatalf("self-echo advanced alice to generation %d", sess.Generation())
	}

	// Messages flow alice -> bob; alice's echo is silent.
	if err := alice.svc.SendMessage(ctx, sess.ID(), []byte("see you at noon")); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := drain(t, bob, relay)
	if len(msgs) != 1 || string(msgs[0].Plaintext) != "see you at noon" || msgs[0].From != "alice" {
		t.Fatalf("bob received %v", msgs)
	}
	if msgs := drain(t, alice, relay); len(msgs) != 0 {
		t.Fatalf("alice received her own message: %v", msgs)
	}
}

func TestInviteExhaustionAbortsCleanly(t *testing.T) {
	relay := newFakeRelay()
	alice := newUser(t, "alice", relay)
	ctx := context.Background()

	sess, err := alice.svc.Create(ctx, "lunch")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	err = alice.svc.Invite(ctx, sess.ID(), "bob")
	if !errors.Is(err, domain.ErrPoolExhausted) {
		t.Fatalf("want ErrPoolExhausted, got %v", err)
	}
	if sess.Generation() != 0 {
		t.Fatalf("failed invite advanced session to %d", sess.Generation())
	}
	if len(relay.inboxes["bob"]) != 0 {
		t.Fatal("failed invite sent envelopes")
	}
}

func TestInviteUnknownGroup(t *testing.T) {
	relay := newFakeRelay()
	alice := newUser(t, "alice", relay)

	err := alice.svc.Invite(context.Background(), "grp-missing", "bob")
	if !errors.Is(err, domain.ErrUnknownGroup) {
		t.Fatalf("want ErrUnknownGroup, got %v", err)
	}
}

func TestRecordForUnknownGroupDropped(t *testing.T) {
	relay := newFakeRelay()
	alice := newUser(t, "alice", relay)
	bob := newUser(t, "bob", relay)
	ctx := context.Background()

	publishCredential(t, bob, relay)
	sess, err := alice.svc.Create(ctx, "lunch")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Subscribe carol's inbox to the group without her ever joining.
	carol := newUser(t, "carol", relay)
	relay.Subscribe(ctx, sess.ID(), "carol")

	if err := alice.svc.Invite(ctx, sess.ID(), "bob"); err != nil {
		t.Fatalf("invite: %v", err)
	}

	envs, _ := relay.Fetch(ctx, carol.id.Name, 0)
	if len(envs) == 0 {
		t.Fatal("carol received nothing")
	}
	_, err = carol.svc.HandleEnvelope(ctx, envs[0])
	if !errors.Is(err, domain.ErrUnknownGroup) {
		t.Fatalf("want ErrUnknownGroup, got %v", err)
	}
}

func TestRestoreReloadsSessions(t *testing.T) {
	relay := newFakeRelay()
	ctx := context.Background()

	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	id := domain.Identity{Name: "alice", SigPub: pub, SigPriv: priv}
	dir := t.TempDir()
	newSvc := func() *group.Service {
		return group.New(id, engine.New(), relay, relay,
			store.NewGroupFileStore(dir), store.NewPoolFileStore(dir),
			store.NewSessionFileStore(dir, "pass"),
			logging.NewDiscard().GetLogger("group"))
	}

	first := newSvc()
	sess, err := first.Create(ctx, "lunch")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	second := newSvc()
	if _, ok := second.Session(sess.ID()); ok {
		t.Fatal("session visible before restore")
	}
	if err := second.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	restored, ok := second.Session(sess.ID())
	if !ok {
		t.Fatal("session missing after restore")
	}
	if restored.Name() != "lunch" || restored.Generation() != sess.Generation() {
		t.Fatalf("restored session: name %q generation %d", restored.Name(), restored.Generation())
	}
}
