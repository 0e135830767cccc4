package pool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"chorus/internal/crypto"
	"chorus/internal/domain"
	"chorus/internal/engine"
	"chorus/internal/logging"
	"chorus/internal/services/pool"
	"chorus/internal/store"
)

// fakeRegistry records uploads and serves a configurable available list.
type fakeRegistry struct {
	available []domain.CredentialID
	uploads   []domain.PrekeyCredential

	listErr   error
	uploadErr error
}

func (f *fakeRegistry) Upload(_ context.Context, cred domain.PrekeyCredential) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, cred)
	f.available = append(f.available, cred.ID)
	return nil
}

func (f *fakeRegistry) ListAvailable(_ context.Context, _ domain.Username) ([]domain.CredentialID, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.CredentialID(nil), f.available...), nil
}

func (f *fakeRegistry) Reserve(context.Context, domain.Username, domain.Username) (domain.ReservedCredential, error) {
	return domain.ReservedCredential{}, domain.ErrPoolExhausted
}

func (f *fakeRegistry) Spend(context.Context, domain.ReservationID, domain.Username) error {
	return nil
}

var _ domain.RegistryClient = (*fakeRegistry)(nil)

func makeIdentity(t *testing.T, name string) domain.Identity {
	t.Helper()
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	return domain.Identity{Name: domain.Username(name), SigPub: pub, SigPriv: priv}
}

func newService(t *testing.T, reg *fakeRegistry, cfg pool.Config) (*pool.Service, domain.PoolStore) {
	t.Helper()
	ps := store.NewPoolFileStore(t.TempDir())
	svc := pool.New(makeIdentity(t, "bob"), ps, reg, engine.New(), cfg,
		logging.NewDiscard().GetLogger("pool"))
	return svc, ps
}

func TestRefresh_MintsDeficit(t *testing.T) {
	reg := &fakeRegistry{}
	svc, ps := newService(t, reg, pool.Config{Target: 4})

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(reg.uploads) != 4 {
		t.Fatalf("uploaded %d credentials, want 4", len(reg.uploads))
	}

	pairs, err := ps.ListCredentials()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pairs) != 4 {
		t.Fatalf("inventory %d, want 4", len(pairs))
	}
	for _, p := range pairs {
		if p.Status != domain.CredentialAvailable {
			t.Fatalf("credential %s status %s, want available", p.Credential.ID, p.Status)
		}
	}
}

func TestRefresh_AboveWatermarkIsNoop(t *testing.T) {
	reg := &fakeRegistry{available: []domain.CredentialID{"cred-a", "cred-b"}}
	svc, _ := newService(t, reg, pool.Config{Target: 4, Watermark: 2})

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(reg.uploads) != 0 {
		t.Fatalf("uploaded %d credentials above watermark", len(reg.uploads))
	}
}

func TestRefresh_Idempotent(t *testing.T) {
	reg := &fakeRegistry{}
	svc, ps := newService(t, reg, pool.Config{Target: 4})

	for i := 0; i < 3; i++ {
		if err := svc.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if len(reg.uploads) != 4 {
		t.Fatalf("uploaded %d credentials across repeated refreshes, want 4", len(reg.uploads))
	}
	pairs, _ := ps.ListCredentials()
	if len(pairs) != 4 {
		t.Fatalf("inventory %d, want 4", len(pairs))
	}
}

func TestRefresh_RegistryUnreachable(t *testing.T) {
	reg := &fakeRegistry{listErr: errors.New("connection refused")}
	svc, ps := newService(t, reg, pool.Config{Target: 4})

	if err := svc.Refresh(context.Background()); err == nil {
		t.Fatal("expected error when registry is unreachable")
	}
	pairs, _ := ps.ListCredentials()
	if len(pairs) != 0 {
		t.Fatalf("inventory mutated on failure: %d entries", len(pairs))
	}
}

func TestRefresh_UploadFailureDiscardsLocalEntry(t *testing.T) {
	reg := &fakeRegistry{uploadErr: errors.New("connection reset")}
	svc, ps := newService(t, reg, pool.Config{Target: 2})

	if err := svc.Refresh(context.Background()); err == nil {
		t.Fatal("expected error when upload fails")
	}
	pairs, _ := ps.ListCredentials()
	if len(pairs) != 0 {
		t.Fatalf("unpublished mint left in inventory: %+v", pairs)
	}

	// Once the registry is reachable again the deficit is re-minted in full.
	reg.uploadErr = nil
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh after recovery: %v", err)
	}
	pairs, _ = ps.ListCredentials()
	if len(pairs) != 2 {
		t.Fatalf("inventory %d after recovery, want 2", len(pairs))
	}
}

func TestRefresh_DiscardsExpired(t *testing.T) {
	reg := &fakeRegistry{available: []domain.CredentialID{"cred-a", "cred-b"}}
	svc, ps := newService(t, reg, pool.Config{Target: 4, Watermark: 2})

	stale := domain.CredentialPair{
		Credential: domain.PrekeyCredential{
			ID:       "cred-stale",
			Owner:    "bob",
			NotAfter: time.Now().Add(-time.Hour).Unix(),
		},
		Status: domain.CredentialAvailable,
	}
	if err := ps.SaveCredential(stale); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	pairs, _ := ps.ListCredentials()
	if len(pairs) != 0 {
		t.Fatalf("expired credential survived refresh: %+v", pairs)
	}
}

func TestMarkSpent(t *testing.T) {
	reg := &fakeRegistry{}
	svc, ps := newService(t, reg, pool.Config{Target: 1})

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	pairs, _ := ps.ListCredentials()
	if len(pairs) != 1 {
		t.Fatalf("inventory %d, want 1", len(pairs))
	}
	if err := svc.MarkSpent(pairs[0].Credential.ID); err != nil {
		t.Fatalf("mark spent: %v", err)
	}
	pairs, _ = ps.ListCredentials()
	if pairs[0].Status != domain.CredentialSpent {
		t.Fatalf("status %s, want spent", pairs[0].Status)
	}
}
