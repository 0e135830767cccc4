package relay_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chorus/internal/crypto"
	"chorus/internal/domain"
	"chorus/internal/logging"
	"chorus/internal/registry"
	"chorus/internal/relay"
)

// newTestRelay spins up the full HTTP stack: durable registry, router and a
// typed client pointed at an httptest server.
func newTestRelay(t *testing.T) *relay.HTTPClient {
	t.Helper()
	log := logging.NewDiscard()
	reg, err := registry.New(registry.Options{
		Path:          filepath.Join(t.TempDir(), "registry.db"),
		SweepInterval: -1,
		Log:           log.GetLogger("registry"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	srv := httptest.NewServer(relay.NewServer(reg, log.GetLogger("relay")).Handler())
	t.Cleanup(srv.Close)
	return relay.NewHTTP(srv.URL, srv.Client())
}

func mintCredential(t *testing.T, owner domain.Username) domain.PrekeyCredential {
	t.Helper()
	id, err := crypto.RandomID("cred")
	require.NoError(t, err)
	return domain.PrekeyCredential{
		ID:       domain.CredentialID(id),
		Owner:    owner,
		NotAfter: time.Now().Add(time.Hour).Unix(),
	}
}

func TestCredentialLifecycleOverHTTP(t *testing.T) {
	c := newTestRelay(t)
	ctx := context.Background()

	cred := mintCredential(t, "bob")
	require.NoError(t, c.Upload(ctx, cred))

	ids, err := c.ListAvailable(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, []domain.CredentialID{cred.ID}, ids)

	res, err := c.Reserve(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, cred.ID, res.Credential.ID)
	require.Equal(t, domain.Username("alice"), res.Reservation.Reserver)

	require.NoError(t, c.Spend(ctx, res.Reservation.ID, "alice"))

	ids, err = c.ListAvailable(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestTypedErrorsCrossTheWire(t *testing.T) {
	c := newTestRelay(t)
	ctx := context.Background()

	_, err := c.Reserve(ctx, "nobody", "alice")
	require.ErrorIs(t, err, domain.ErrPoolExhausted)

	cred := mintCredential(t, "bob")
	require.NoError(t, c.Upload(ctx, cred))
	conflicting := cred
	conflicting.NotAfter++
	require.ErrorIs(t, c.Upload(ctx, conflicting), domain.ErrDuplicateCredential)

	require.ErrorIs(t, c.Spend(ctx, "rsv-bogus", "alice"), domain.ErrInvalidReservation)
}

func TestBroadcastFansOutIncludingSender(t *testing.T) {
	c := newTestRelay(t)
	ctx := context.Background()

	require.NoError(t, c.Subscribe(ctx, "grp-1", "alice"))
	require.NoError(t, c.Subscribe(ctx, "grp-1", "bob"))

	env := domain.Envelope{
		Kind:    domain.KindApplication,
		GroupID: "grp-1",
		From:    "alice",
		Payload: []byte("ciphertext"),
	}
	require.NoError(t, c.Send(ctx, env))

	for _, user := range []domain.Username{"alice", "bob"} {
		got, err := c.Fetch(ctx, user, 0)
		require.NoError(t, err)
		require.Len(t, got, 1, "subscriber %s", user)
		require.Equal(t, env.Payload, got[0].Payload)
		require.NotZero(t, got[0].Timestamp, "router must stamp the envelope")
	}

	// Non-subscribers see nothing.
	got, err := c.Fetch(ctx, "carol", 0)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestJoinTicketIsUnicast(t *testing.T) {
	c := newTestRelay(t)
	ctx := context.Background()

	require.NoError(t, c.Subscribe(ctx, "grp-1", "alice"))
	require.NoError(t, c.Subscribe(ctx, "grp-1", "bob"))

	require.NoError(t, c.Send(ctx, domain.Envelope{
		Kind:    domain.KindJoinTicket,
		Target:  "carol",
		From:    "alice",
		Payload: []byte("sealed ticket"),
	}))

	got, err := c.Fetch(ctx, "carol", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = c.Fetch(ctx, "bob", 0)
	require.NoError(t, err)
	require.Empty(t, got, "tickets must not reach group subscribers")
}

func TestFetchLimitAndAck(t *testing.T) {
	c := newTestRelay(t)
	ctx := context.Background()

	require.NoError(t, c.Subscribe(ctx, "grp-1", "bob"))
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Send(ctx, domain.Envelope{
			Kind:    domain.KindApplication,
			GroupID: "grp-1",
			From:    "alice",
			Payload: []byte{byte(i)},
		}))
	}

	got, err := c.Fetch(ctx, "bob", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Fetch does not consume; ack does.
	require.NoError(t, c.Ack(ctx, "bob", 2))
	got, err = c.Fetch(ctx, "bob", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []byte{2}, got[0].Payload)

	require.NoError(t, c.Ack(ctx, "bob", 10))
	got, err = c.Fetch(ctx, "bob", 0)
	require.NoError(t, err)
	require.Empty(t, got)
}
