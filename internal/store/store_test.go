package store_test

import (
	"testing"

	"chorus/internal/domain"
	"chorus/internal/store"
)

func TestIdentity_SaveLoad_OK(t *testing.T) {
	home := t.TempDir()
	pass := "pass"

	var ids domain.IdentityStore = store.NewIdentityFileStore(home)

	id := domain.Identity{
		Name:    "alice",
		SigPub:  domain.Ed25519Public{1},
		SigPriv: domain.Ed25519Private{2},
	}
	if err := ids.SaveIdentity(pass, id); err != nil {
		t.Fatalf("save identity: %v", err)
	}

	got, err := ids.LoadIdentity(pass)
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	if got.Name != id.Name || got.SigPub != id.SigPub || got.SigPriv != id.SigPriv {
		t.Fatalf("mismatch after load")
	}
}

func TestIdentity_WrongPassphrase_Fails(t *testing.T) {
	home := t.TempDir()
	var ids domain.IdentityStore = store.NewIdentityFileStore(home)

	if err := ids.SaveIdentity("correct", domain.Identity{Name: "alice"}); err != nil {
		t.Fatalf("save identity: %v", err)
	}
	if _, err := ids.LoadIdentity("wrong"); err == nil {
		t.Fatal("expected error with wrong passphrase")
	}
}

func TestPool_Lifecycle(t *testing.T) {
	var ps domain.PoolStore = store.NewPoolFileStore(t.TempDir())

	pair := domain.CredentialPair{
		Credential: domain.PrekeyCredential{ID: "cred-1", Owner: "bob"},
		DHPriv:     domain.X25519Private{7},
		Status:     domain.CredentialCreated,
	}
	if err := ps.SaveCredential(pair); err != nil {
		t.Fatalf("save credential: %v", err)
	}

	all, err := ps.ListCredentials()
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(all) != 1 || all[0].Credential.ID != "cred-1" {
		t.Fatalf("unexpected inventory: %+v", all)
	}

	if err := ps.SetStatus("cred-1", domain.CredentialAvailable); err != nil {
		t.Fatalf("set status: %v", err)
	}
	all, _ = ps.ListCredentials()
	if all[0].Status != domain.CredentialAvailable {
		t.Fatalf("status not persisted: %s", all[0].Status)
	}
	if err := ps.SetStatus("cred-404", domain.CredentialSpent); err == nil {
		t.Fatal("expected error for unknown credential")
	}

	priv, ok, err := ps.CredentialKey("cred-1")
	if err != nil || !ok {
		t.Fatalf("credential key: ok=%v err=%v", ok, err)
	}
	if priv != pair.DHPriv {
		t.Fatal("wrong private half")
	}
	if _, ok, _ := ps.CredentialKey("cred-404"); ok {
		t.Fatal("unknown credential must not resolve")
	}

	if err := ps.DeleteCredential("cred-1"); err != nil {
		t.Fatalf("delete credential: %v", err)
	}
	all, _ = ps.ListCredentials()
	if len(all) != 0 {
		t.Fatalf("inventory not empty after delete: %+v", all)
	}
}

func TestGroups_SaveLookupList(t *testing.T) {
	var gs domain.GroupStore = store.NewGroupFileStore(t.TempDir())

	if _, ok, err := gs.LookupGroup("lunch"); err != nil || ok {
		t.Fatalf("lookup before save: ok=%v err=%v", ok, err)
	}
	if err := gs.SaveGroup("lunch", "grp-1"); err != nil {
		t.Fatalf("save group: %v", err)
	}
	id, ok, err := gs.LookupGroup("lunch")
	if err != nil || !ok || id != "grp-1" {
		t.Fatalf("lookup after save: id=%s ok=%v err=%v", id, ok, err)
	}

	if err := gs.SaveGroup("standup", "grp-2"); err != nil {
		t.Fatalf("save group: %v", err)
	}
	all, err := gs.ListGroups()
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	if len(all) != 2 || all["standup"] != "grp-2" {
		t.Fatalf("unexpected mapping: %v", all)
	}
}

func TestSessions_SaveLoad_Sealed(t *testing.T) {
	home := t.TempDir()
	var ss domain.SessionStore = store.NewSessionFileStore(home, "pass")

	if err := ss.SaveSession("grp-1", []byte("blob-one")); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := ss.SaveSession("grp-2", []byte("blob-two")); err != nil {
		t.Fatalf("save session: %v", err)
	}

	got, err := ss.LoadSessions()
	if err != nil {
		t.Fatalf("load sessions: %v", err)
	}
	if len(got) != 2 || string(got["grp-1"]) != "blob-one" || string(got["grp-2"]) != "blob-two" {
		t.Fatalf("unexpected sessions: %v", got)
	}

	// A wrong passphrase must not open any blob.
	wrong := store.NewSessionFileStore(home, "other")
	if _, err := wrong.LoadSessions(); err == nil {
		t.Fatal("expected error with wrong passphrase")
	}
}
