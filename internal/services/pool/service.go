package pool

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"chorus/internal/domain"
)

const (
	// DefaultTarget is the inventory size the pool replenishes to.
	DefaultTarget = 20
	// DefaultCredentialTTL is the validity window of a freshly minted
	// credential.
	DefaultCredentialTTL = 30 * 24 * time.Hour
)

// Config tunes a pool service. Zero values pick the defaults; the watermark
// defaults to half the target.
type Config struct {
	Target        int
	Watermark     int
	CredentialTTL time.Duration
}

// Service is the local credential pool for one identity.
type Service struct {
	self     domain.Identity
	store    domain.PoolStore
	registry domain.RegistryClient
	engine   domain.CryptoEngine
	log      *logging.Logger

	target    int
	watermark int
	ttl       time.Duration
}

// New returns a pool service for self.
func New(
	self domain.Identity,
	store domain.PoolStore,
	registry domain.RegistryClient,
	engine domain.CryptoEngine,
	cfg Config,
	log *logging.Logger,
) *Service {
	target := cfg.Target
	if target <= 0 {
		target = DefaultTarget
	}
	watermark := cfg.Watermark
	if watermark <= 0 {
		watermark = target / 2
	}
	ttl := cfg.CredentialTTL
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return &Service{
		self:      self,
		store:     store,
		registry:  registry,
		engine:    engine,
		log:       log,
		target:    target,
		watermark: watermark,
		ttl:       ttl,
	}
}

// Refresh reconciles the local pool against the registry:
//
//  1. discard locally held credentials past their expiry,
//  2. count what the registry still reports available,
//  3. below the watermark, mint and upload the deficit, marking each
//     created→uploaded→available only once the registry acknowledged.
//
// Refresh is idempotent between watermark changes and never corrupts local
// state on failure: an unreachable registry leaves the inventory untouched.
func (s *Service) Refresh(ctx context.Context) error {
	if err := s.discardExpired(); err != nil {
		return fmt.Errorf("pool refresh: %w", err)
	}

	available, err := s.registry.ListAvailable(ctx, s.self.Name)
	if err != nil {
		return fmt.Errorf("pool refresh: registry unreachable: %w", err)
	}
	if len(available) >= s.watermark {
		s.log.Debugf("pool refresh: %d available at registry, watermark %d, nothing to do",
			len(available), s.watermark)
		return nil
	}

	deficit := s.target - len(available)
	s.log.Infof("pool refresh: %d available, below watermark %d, minting %d",
		len(available), s.watermark, deficit)
	for i := 0; i < deficit; i++ {
		if err := s.mintAndUpload(ctx); err != nil {
			return fmt.Errorf("pool refresh: %w", err)
		}
	}
	return nil
}

// mintAndUpload creates one credential and walks it through
// created→uploaded→available as the registry acknowledges.
func (s *Service) mintAndUpload(ctx context.Context) error {
	pair, err := s.engine.NewCredential(s.self, s.ttl)
	if err != nil {
		return err
	}
	if err := s.store.SaveCredential(pair); err != nil {
		return err
	}
	if err := s.store.SetStatus(pair.Credential.ID, domain.CredentialUploaded); err != nil {
		return err
	}
	if err := s.registry.Upload(ctx, pair.Credential); err != nil {
		// The registry never saw it; drop the local entry so unpublished
		// private keys don't pile up. The next refresh re-mints the deficit.
		if derr := s.store.DeleteCredential(pair.Credential.ID); derr != nil {
			s.log.Warningf("discarding unpublished credential %s: %v", pair.Credential.ID, derr)
		}
		return err
	}
	return s.store.SetStatus(pair.Credential.ID, domain.CredentialAvailable)
}

// discardExpired drops local entries past NotAfter.
func (s *Service) discardExpired() error {
	pairs, err := s.store.ListCredentials()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, p := range pairs {
		if p.Status.Terminal() {
			continue
		}
		if p.Credential.Expired(now) {
			s.log.Debugf("discarding expired credential %s", p.Credential.ID)
			if err := s.store.DeleteCredential(p.Credential.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarkSpent records that a locally held credential was consumed by a join.
func (s *Service) MarkSpent(id domain.CredentialID) error {
	return s.store.SetStatus(id, domain.CredentialSpent)
}
