package group

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"

	"chorus/internal/crypto"
	"chorus/internal/domain"
)

// Service holds every active group session for the local identity and
// applies the protocol's transitions to them.
type Service struct {
	self     domain.Identity
	engine   domain.CryptoEngine
	registry domain.RegistryClient
	router   domain.RouterClient
	groups   domain.GroupStore
	pool     domain.PoolStore
	persist  domain.SessionStore
	log      *logging.Logger

	sessions map[domain.GroupID]domain.GroupSession
}

// New returns a group service for self. The session store (optional) keeps
// exported sessions across processes; Restore loads them back.
func New(
	self domain.Identity,
	engine domain.CryptoEngine,
	registry domain.RegistryClient,
	router domain.RouterClient,
	groups domain.GroupStore,
	pool domain.PoolStore,
	persist domain.SessionStore,
	log *logging.Logger,
) *Service {
	return &Service{
		self:     self,
		engine:   engine,
		registry: registry,
		router:   router,
		groups:   groups,
		pool:     pool,
		persist:  persist,
		log:      log,
		sessions: make(map[domain.GroupID]domain.GroupSession),
	}
}

// Restore reloads persisted sessions into memory.
func (s *Service) Restore() error {
	if s.persist == nil {
		return nil
	}
	blobs, err := s.persist.LoadSessions()
	if err != nil {
		return err
	}
	for id, blob := range blobs {
		sess, err := s.engine.ImportSession(s.self, blob)
		if err != nil {
			return fmt.Errorf("restore session %s: %w", id, err)
		}
		s.sessions[sess.ID()] = sess
	}
	return nil
}

// Resubscribe re-announces every restored session's broadcast subscription.
// The router keeps subscriber sets in memory, so a restarted client must
// re-announce before polling.
func (s *Service) Resubscribe(ctx context.Context) error {
	for id := range s.sessions {
		if err := s.router.Subscribe(ctx, id, s.self.Name); err != nil {
			return fmt.Errorf("resubscribe %s: %w", id, err)
		}
	}
	return nil
}

// saveSession persists the session if a session store is configured.
func (s *Service) saveSession(sess domain.GroupSession) {
	if s.persist == nil {
		return
	}
	blob, err := s.engine.ExportSession(sess)
	if err != nil {
		s.log.Errorf("group %s: export session: %v", sess.ID(), err)
		return
	}
	if err := s.persist.SaveSession(sess.ID(), blob); err != nil {
		s.log.Errorf("group %s: persist session: %v", sess.ID(), err)
	}
}

// Create founds a new group: a session at generation zero with the local
// identity as sole member, subscribed to its own broadcast channel.
func (s *Service) Create(ctx context.Context, name string) (domain.GroupSession, error) {
	if _, ok, err := s.groups.LookupGroup(name); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("group %q already exists", name)
	}
	id, err := crypto.RandomID("grp")
	if err != nil {
		return nil, err
	}
	sess, err := s.engine.CreateSession(s.self, domain.GroupID(id), name)
	if err != nil {
		return nil, err
	}
	if err := s.router.Subscribe(ctx, sess.ID(), s.self.Name); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if err := s.groups.SaveGroup(name, sess.ID()); err != nil {
		return nil, err
	}
	s.sessions[sess.ID()] = sess
	s.saveSession(sess)
	s.log.Infof("created group %q (%s)", name, sess.ID())
	return sess, nil
}

// Session returns the active session for a group id.
func (s *Service) Session(id domain.GroupID) (domain.GroupSession, bool) {
	sess, ok := s.sessions[id]
	return sess, ok
}

// SessionByName resolves a group name through the durable mapping.
func (s *Service) SessionByName(name string) (domain.GroupSession, bool, error) {
	id, ok, err := s.groups.LookupGroup(name)
	if err != nil || !ok {
		return nil, false, err
	}
	sess, ok := s.sessions[id]
	return sess, ok, nil
}

// Invite adds target to the group.
//
// The sequence is: reserve a credential for target, have the engine build
// the change record and join ticket, apply our own change immediately (the
// ticket describes post-change state, so the originator must advance first),
// unicast the ticket, broadcast the record, then spend the reservation.
// Credential pool exhaustion aborts before any state changes.
func (s *Service) Invite(ctx context.Context, id domain.GroupID, target domain.Username) error {
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("group %s: %w", id, domain.ErrUnknownGroup)
	}

	reserved, err := s.registry.Reserve(ctx, target, s.self.Name)
	if err != nil {
		return fmt.Errorf("invite %s: %w", target, err)
	}
	record, ticket, err := s.engine.AddMember(sess, reserved.Credential)
	if err != nil {
		return fmt.Errorf("invite %s: %w", target, err)
	}
	if err := s.engine.ApplyChange(sess, record); err != nil {
		return fmt.Errorf("invite %s: apply own change: %w", target, err)
	}
	s.saveSession(sess)
	s.log.Infof("group %s: invited %s, now at generation %d", id, target, sess.Generation())

	ticketPayload, err := cbor.Marshal(ticket)
	if err != nil {
		return err
	}
	if err := s.router.Send(ctx, domain.Envelope{
		Kind:    domain.KindJoinTicket,
		Target:  target,
		From:    s.self.Name,
		Payload: ticketPayload,
	}); err != nil {
		return fmt.Errorf("invite %s: send ticket: %w", target, err)
	}

	recordPayload, err := cbor.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.router.Send(ctx, domain.Envelope{
		Kind:    domain.KindMembershipChange,
		GroupID: id,
		From:    s.self.Name,
		Payload: recordPayload,
	}); err != nil {
		return fmt.Errorf("invite %s: broadcast record: %w", target, err)
	}

	if err := s.registry.Spend(ctx, reserved.Reservation.ID, s.self.Name); err != nil {
		return fmt.Errorf("invite %s: spend: %w", target, err)
	}
	return nil
}

// SendMessage encrypts and broadcasts an application message.
func (s *Service) SendMessage(ctx context.Context, id domain.GroupID, plaintext []byte) error {
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("group %s: %w", id, domain.ErrUnknownGroup)
	}
	ct, err := s.engine.Encrypt(sess, plaintext)
	if err != nil {
		return err
	}
	return s.router.Send(ctx, domain.Envelope{
		Kind:    domain.KindApplication,
		GroupID: id,
		From:    s.self.Name,
		Payload: ct,
	})
}

// HandleEnvelope dispatches one delivered envelope. It returns a non-nil
// message only for application messages addressed to someone else's
// plaintext; self-echoes of any kind are discarded here, at the dispatch
// boundary, before any crypto work.
func (s *Service) HandleEnvelope(ctx context.Context, env domain.Envelope) (*domain.IncomingMessage, error) {
	switch env.Kind {
	case domain.KindMembershipChange:
		return nil, s.handleRecord(env)
	case domain.KindJoinTicket:
		return nil, s.handleTicket(ctx, env)
	case domain.KindApplication:
		return s.handleMessage(env)
	default:
		return nil, fmt.Errorf("envelope kind %q: %w", env.Kind, domain.ErrValidation)
	}
}

// handleRecord applies a broadcast membership-change record. The originator
// already applied its own change when it originated it, so its echo must be
// discarded: reprocessing would hit a generation the session has passed.
func (s *Service) handleRecord(env domain.Envelope) error {
	if env.From == s.self.Name {
		s.log.Debugf("group %s: discarding self-echoed record", env.GroupID)
		return nil
	}
	var rec domain.MembershipChangeRecord
	if err := cbor.Unmarshal(env.Payload, &rec); err != nil {
		return fmt.Errorf("membership record: %w", domain.ErrValidation)
	}
	if rec.Originator == s.self.Name {
		s.log.Debugf("group %s: discarding self-originated record", rec.GroupID)
		return nil
	}
	sess, ok := s.sessions[rec.GroupID]
	if !ok {
		return fmt.Errorf("record for group %s: %w", rec.GroupID, domain.ErrUnknownGroup)
	}
	if err := s.engine.ApplyChange(sess, rec); err != nil {
		return fmt.Errorf("record from %s dropped: %w", rec.Originator, err)
	}
	s.saveSession(sess)
	s.log.Infof("group %s: advanced to generation %d, members %v",
		rec.GroupID, sess.Generation(), sess.Members())
	return nil
}

// handleTicket materializes a new session from a join ticket. The group's
// name and metadata come only from the ticket's encrypted payload, never
// from the delivery envelope.
func (s *Service) handleTicket(ctx context.Context, env domain.Envelope) error {
	var ticket domain.JoinTicket
	if err := cbor.Unmarshal(env.Payload, &ticket); err != nil {
		return fmt.Errorf("join ticket: %w", domain.ErrValidation)
	}
	sess, err := s.engine.ApplyJoin(s.self, ticket, s.pool)
	if err != nil {
		return fmt.Errorf("join ticket from %s dropped: %w", ticket.Originator, err)
	}
	if _, ok := s.sessions[sess.ID()]; ok {
		s.log.Debugf("group %s: already joined, ignoring duplicate ticket", sess.ID())
		return nil
	}
	s.sessions[sess.ID()] = sess
	s.saveSession(sess)
	if err := s.groups.SaveGroup(sess.Name(), sess.ID()); err != nil {
		return err
	}
	if err := s.router.Subscribe(ctx, sess.ID(), s.self.Name); err != nil {
		return fmt.Errorf("subscribe after join: %w", err)
	}
	if credID, err := s.engine.TicketCredential(ticket); err == nil {
		if err := s.pool.SetStatus(credID, domain.CredentialSpent); err != nil {
			s.log.Warningf("group %s: marking credential %s spent: %v", sess.ID(), credID, err)
		}
	}
	s.log.Infof("joined group %q (%s) at generation %d, members %v",
		sess.Name(), sess.ID(), sess.Generation(), sess.Members())
	return nil
}

// handleMessage decrypts an application broadcast. Our own echo is expected
// and silently discarded; the engine's ErrOwnMessage is a second guard for
// frames that claim another sender.
func (s *Service) handleMessage(env domain.Envelope) (*domain.IncomingMessage, error) {
	if env.From == s.self.Name {
		return nil, nil
	}
	sess, ok := s.sessions[env.GroupID]
	if !ok {
		return nil, fmt.Errorf("message for group %s: %w", env.GroupID, domain.ErrUnknownGroup)
	}
	sender, pt, err := s.engine.Decrypt(sess, env.Payload)
	if err != nil {
		if errors.Is(err, domain.ErrOwnMessage) {
			return nil, nil
		}
		return nil, fmt.Errorf("message dropped: %w", err)
	}
	return &domain.IncomingMessage{
		GroupID:   env.GroupID,
		From:      sender,
		Plaintext: pt,
		Timestamp: env.Timestamp,
	}, nil
}
