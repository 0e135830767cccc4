package registry

import (
	"bytes"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	"chorus/internal/crypto"
	"chorus/internal/domain"
)

const (
	metadataBucket     = "metadata"
	versionKey         = "version"
	credentialsBucket  = "credentials"
	ownerIndexBucket   = "byOwner"
	reservationsBucket = "reservations"

	// StorageVersion guards against incompatible database layouts.
	StorageVersion = 0

	// DefaultReservationTTL bounds how long a reserved credential stays held
	// before lapsing back to available.
	DefaultReservationTTL = 90 * time.Second

	// DefaultSweepInterval is how often the background worker releases lapsed
	// reservations and expires stale credentials.
	DefaultSweepInterval = 15 * time.Second
)

// Options configures a Registry.
type Options struct {
	// Path is the bbolt database file.
	Path string
	// ReservationTTL overrides DefaultReservationTTL when positive.
	ReservationTTL time.Duration
	// SweepInterval overrides DefaultSweepInterval when positive. Negative
	// disables the sweep worker; callers then drive ReleaseExpired themselves.
	SweepInterval time.Duration
	// Log receives sweep and transition diagnostics. Required.
	Log *logging.Logger
}

// Registry is the durable credential registry.
type Registry struct {
	db  *bolt.DB
	log *logging.Logger
	ttl time.Duration

	haltCh chan struct{}
	doneCh chan struct{}
}

// credRecord is the stored form of one credential.
type credRecord struct {
	Credential    domain.PrekeyCredential `cbor:"1,keyasint"`
	Status        domain.CredentialStatus `cbor:"2,keyasint"`
	ReservationID domain.ReservationID    `cbor:"3,keyasint,omitempty"`
}

// New opens (creating if needed) the registry database and starts the sweep
// worker unless disabled.
func New(opts Options) (*Registry, error) {
	if opts.Log == nil {
		return nil, fmt.Errorf("registry: nil logger")
	}
	ttl := opts.ReservationTTL
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	r := &Registry{
		log:    opts.Log,
		ttl:    ttl,
		haltCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	var err error
	r.db, err = bolt.Open(opts.Path, 0600, nil)
	if err != nil {
		return nil, err
	}
	if err = r.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		for _, name := range []string{credentialsBucket, ownerIndexBucket, reservationsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		if b := meta.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != StorageVersion {
				return fmt.Errorf("registry: incompatible storage version: %d", uint(b[0]))
			}
			return nil
		}
		return meta.Put([]byte(versionKey), []byte{StorageVersion})
	}); err != nil {
		r.db.Close()
		return nil, err
	}

	interval := opts.SweepInterval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	if interval > 0 {
		go r.sweepWorker(interval)
	} else {
		close(r.doneCh)
	}
	return r, nil
}

// Close stops the sweep worker and closes the database.
func (r *Registry) Close() error {
	close(r.haltCh)
	<-r.doneCh
	return r.db.Close()
}

// Upload inserts a published credential. Idempotent: re-uploading the same
// payload succeeds; reusing an id with a different payload is rejected with
// ErrDuplicateCredential and no state change.
func (r *Registry) Upload(cred domain.PrekeyCredential) error {
	raw, err := cbor.Marshal(cred)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		creds := tx.Bucket([]byte(credentialsBucket))
		if existing := creds.Get([]byte(cred.ID)); existing != nil {
			var rec credRecord
			if err := cbor.Unmarshal(existing, &rec); err != nil {
				return err
			}
			prev, err := cbor.Marshal(rec.Credential)
			if err != nil {
				return err
			}
			if bytes.Equal(prev, raw) {
				return nil
			}
			return fmt.Errorf("credential %s: %w", cred.ID, domain.ErrDuplicateCredential)
		}

		rec := credRecord{Credential: cred, Status: domain.CredentialAvailable}
		if err := putRecord(creds, rec); err != nil {
			return err
		}
		owners := tx.Bucket([]byte(ownerIndexBucket))
		ob, err := owners.CreateBucketIfNotExists([]byte(cred.Owner))
		if err != nil {
			return err
		}
		return ob.Put([]byte(cred.ID), nil)
	})
}

// Reserve atomically selects the available, non-expired credential belonging
// to target with the furthest-future NotAfter, marks it reserved with a
// deadline, and returns the reservation handle plus the credential payload.
// Returns ErrPoolExhausted when target has no candidate.
func (r *Registry) Reserve(target, reserver domain.Username) (domain.ReservedCredential, error) {
	var out domain.ReservedCredential
	err := r.db.Update(func(tx *bolt.Tx) error {
		now := time.Now()
		creds := tx.Bucket([]byte(credentialsBucket))
		ob := tx.Bucket([]byte(ownerIndexBucket)).Bucket([]byte(target))
		if ob == nil {
			return fmt.Errorf("no credentials for %s: %w", target, domain.ErrPoolExhausted)
		}

		var best *credRecord
		c := ob.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			rec, err := getRecord(creds, domain.CredentialID(k))
			if err != nil {
				return err
			}
			// Expiry on read: anything non-terminal past NotAfter flips to
			// expired before selection.
			if !rec.Status.Terminal() && rec.Credential.Expired(now) {
				if err := r.expireRecord(tx, rec); err != nil {
					return err
				}
				continue
			}
			if rec.Status != domain.CredentialAvailable {
				continue
			}
			if best == nil || rec.Credential.NotAfter > best.Credential.NotAfter {
				cp := rec
				best = &cp
			}
		}
		if best == nil {
			return fmt.Errorf("no available credential for %s: %w", target, domain.ErrPoolExhausted)
		}

		id, err := crypto.RandomID("rsv")
		if err != nil {
			return err
		}
		res := domain.Reservation{
			ID:           domain.ReservationID(id),
			CredentialID: best.Credential.ID,
			Reserver:     reserver,
			Target:       target,
			CreatedAt:    now.Unix(),
			ExpiresAt:    now.Add(r.ttl).Unix(),
		}
		best.Status = domain.CredentialReserved
		best.ReservationID = res.ID
		if err := putRecord(creds, *best); err != nil {
			return err
		}
		raw, err := cbor.Marshal(res)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(reservationsBucket)).Put([]byte(res.ID), raw); err != nil {
			return err
		}
		out = domain.ReservedCredential{Reservation: res, Credential: best.Credential}
		return nil
	})
	if err != nil {
		return domain.ReservedCredential{}, err
	}
	r.log.Debugf("reserved %s for %s (by %s, deadline %s)",
		out.Credential.ID, target, reserver, time.Unix(out.Reservation.ExpiresAt, 0))
	return out, nil
}

// Spend transitions a reserved credential to spent. Fails with
// ErrInvalidReservation if the reservation lapsed, never existed, or is held
// by a different caller.
func (r *Registry) Spend(id domain.ReservationID, caller domain.Username) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		resB := tx.Bucket([]byte(reservationsBucket))
		raw := resB.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("reservation %s: %w", id, domain.ErrInvalidReservation)
		}
		var res domain.Reservation
		if err := cbor.Unmarshal(raw, &res); err != nil {
			return err
		}
		now := time.Now()
		if now.Unix() >= res.ExpiresAt {
			// Lapsed: release the credential now rather than wait for the
			// sweep, then report the conflict.
			if err := r.releaseReservation(tx, res, now); err != nil {
				return err
			}
			return fmt.Errorf("reservation %s lapsed: %w", id, domain.ErrInvalidReservation)
		}
		if res.Reserver != caller {
			return fmt.Errorf("reservation %s held by %s: %w", id, res.Reserver, domain.ErrInvalidReservation)
		}

		creds := tx.Bucket([]byte(credentialsBucket))
		rec, err := getRecord(creds, res.CredentialID)
		if err != nil {
			return err
		}
		rec.Status = domain.CredentialSpent
		rec.ReservationID = ""
		if err := putRecord(creds, rec); err != nil {
			return err
		}
		return resB.Delete([]byte(id))
	})
}

// ReleaseExpired reverts lapsed reservations to available and expires
// credentials past NotAfter. Safe to call concurrently with Reserve and
// Spend; every transition happens in one update transaction.
func (r *Registry) ReleaseExpired() (released, expired int, err error) {
	err = r.db.Update(func(tx *bolt.Tx) error {
		now := time.Now()
		creds := tx.Bucket([]byte(credentialsBucket))
		resB := tx.Bucket([]byte(reservationsBucket))

		// Lapsed reservations first.
		var lapsed []domain.Reservation
		c := resB.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var res domain.Reservation
			if err := cbor.Unmarshal(v, &res); err != nil {
				return err
			}
			if now.Unix() >= res.ExpiresAt {
				lapsed = append(lapsed, res)
			}
		}
		for _, res := range lapsed {
			rec, err := getRecord(creds, res.CredentialID)
			if err != nil {
				return err
			}
			if err := resB.Delete([]byte(res.ID)); err != nil {
				return err
			}
			if rec.Credential.Expired(now) {
				rec.Status = domain.CredentialExpired
				expired++
			} else {
				rec.Status = domain.CredentialAvailable
				released++
			}
			rec.ReservationID = ""
			if err := putRecord(creds, rec); err != nil {
				return err
			}
		}

		// Then stale credentials in any non-terminal state.
		cc := creds.Cursor()
		var stale []credRecord
		for k, v := cc.First(); k != nil; k, v = cc.Next() {
			var rec credRecord
			if err := cbor.Unmarshal(v, &rec); err != nil {
				return err
			}
			if !rec.Status.Terminal() && rec.Credential.Expired(now) {
				stale = append(stale, rec)
			}
		}
		for _, rec := range stale {
			if rec.ReservationID != "" {
				if err := resB.Delete([]byte(rec.ReservationID)); err != nil {
					return err
				}
			}
			rec.Status = domain.CredentialExpired
			rec.ReservationID = ""
			if err := putRecord(creds, rec); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	return released, expired, err
}

// ListAvailable returns the ids of target's available, non-expired
// credentials. Stale entries encountered are expired in place.
func (r *Registry) ListAvailable(owner domain.Username) ([]domain.CredentialID, error) {
	var out []domain.CredentialID
	err := r.db.Update(func(tx *bolt.Tx) error {
		now := time.Now()
		creds := tx.Bucket([]byte(credentialsBucket))
		ob := tx.Bucket([]byte(ownerIndexBucket)).Bucket([]byte(owner))
		if ob == nil {
			return nil
		}
		c := ob.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			rec, err := getRecord(creds, domain.CredentialID(k))
			if err != nil {
				return err
			}
			if !rec.Status.Terminal() && rec.Credential.Expired(now) {
				if err := r.expireRecord(tx, rec); err != nil {
					return err
				}
				continue
			}
			if rec.Status == domain.CredentialAvailable {
				out = append(out, rec.Credential.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// expireRecord marks rec expired and drops any linked reservation. Must run
// inside an update transaction.
func (r *Registry) expireRecord(tx *bolt.Tx, rec credRecord) error {
	if rec.ReservationID != "" {
		if err := tx.Bucket([]byte(reservationsBucket)).Delete([]byte(rec.ReservationID)); err != nil {
			return err
		}
	}
	rec.Status = domain.CredentialExpired
	rec.ReservationID = ""
	return putRecord(tx.Bucket([]byte(credentialsBucket)), rec)
}

// releaseReservation reverts a lapsed reservation's credential. Must run
// inside an update transaction.
func (r *Registry) releaseReservation(tx *bolt.Tx, res domain.Reservation, now time.Time) error {
	if err := tx.Bucket([]byte(reservationsBucket)).Delete([]byte(res.ID)); err != nil {
		return err
	}
	creds := tx.Bucket([]byte(credentialsBucket))
	rec, err := getRecord(creds, res.CredentialID)
	if err != nil {
		return err
	}
	if rec.Status != domain.CredentialReserved {
		return nil
	}
	if rec.Credential.Expired(now) {
		rec.Status = domain.CredentialExpired
	} else {
		rec.Status = domain.CredentialAvailable
	}
	rec.ReservationID = ""
	return putRecord(creds, rec)
}

func (r *Registry) sweepWorker(interval time.Duration) {
	defer close(r.doneCh)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-r.haltCh:
			return
		case <-t.C:
			released, expired, err := r.ReleaseExpired()
			if err != nil {
				r.log.Errorf("sweep: %v", err)
				continue
			}
			if released > 0 || expired > 0 {
				r.log.Infof("sweep: released %d reservations, expired %d credentials", released, expired)
			}
		}
	}
}

func getRecord(b *bolt.Bucket, id domain.CredentialID) (credRecord, error) {
	raw := b.Get([]byte(id))
	if raw == nil {
		return credRecord{}, fmt.Errorf("registry: missing credential record %s", id)
	}
	var rec credRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return credRecord{}, err
	}
	return rec, nil
}

func putRecord(b *bolt.Bucket, rec credRecord) error {
	raw, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.Credential.ID), raw)
}
