package engine

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/curve25519"

	"chorus/internal/crypto"
	"chorus/internal/domain"
	"chorus/internal/protocol/groupkey"
	"chorus/internal/util/memzero"
)

// Engine implements domain.CryptoEngine.
type Engine struct{}

// New returns a ready engine.
func New() *Engine { return &Engine{} }

var _ domain.CryptoEngine = (*Engine)(nil)

// changeBody is the sealed content of a membership-change record.
type changeBody struct {
	Member domain.Username `cbor:"1,keyasint"`
	Commit []byte          `cbor:"2,keyasint"`
}

// ticketFrame is the join-ticket payload. The credential id is the only
// plaintext field: the invitee needs it to pick the right private key before
// anything can be opened.
type ticketFrame struct {
	CredentialID domain.CredentialID `cbor:"1,keyasint"`
	Box          []byte              `cbor:"2,keyasint"`
}

// ticketBody is the sealed content of a join ticket: everything needed to
// materialize the session at the post-change generation.
type ticketBody struct {
	GroupID    domain.GroupID    `cbor:"1,keyasint"`
	Name       string            `cbor:"2,keyasint"`
	Generation uint64            `cbor:"3,keyasint"`
	Members    []domain.Username `cbor:"4,keyasint"`
	Secret     []byte            `cbor:"5,keyasint"`
}

// messageFrame is an application ciphertext. The sender rides in plaintext so
// a receiver can refuse its own echo before attempting to open.
type messageFrame struct {
	Sender domain.Username `cbor:"1,keyasint"`
	Box    []byte          `cbor:"2,keyasint"`
}

// CreateSession founds a group at generation zero with self as sole member.
func (e *Engine) CreateSession(self domain.Identity, id domain.GroupID, name string) (domain.GroupSession, error) {
	secret, err := groupkey.NewSecret()
	if err != nil {
		return nil, err
	}
	return &Session{
		id:      id,
		name:    name,
		self:    self.Name,
		secret:  secret,
		members: map[domain.Username]struct{}{self.Name: {}},
	}, nil
}

// NewCredential mints a prekey credential pair for self, valid until now+ttl.
// The signature binds the owner, the key-exchange key and the expiry to the
// identity's signing key.
func (e *Engine) NewCredential(self domain.Identity, ttl time.Duration) (domain.CredentialPair, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.CredentialPair{}, err
	}
	id, err := crypto.RandomID("cred")
	if err != nil {
		return domain.CredentialPair{}, err
	}
	cred := domain.PrekeyCredential{
		ID:       domain.CredentialID(id),
		Owner:    self.Name,
		SigPub:   self.SigPub,
		DHPub:    pub,
		NotAfter: time.Now().Add(ttl).Unix(),
	}
	cred.Sig = crypto.SignEd25519(self.SigPriv, credentialTBS(cred))
	return domain.CredentialPair{
		Credential: cred,
		DHPriv:     priv,
		Status:     domain.CredentialCreated,
	}, nil
}

// AddMember builds the record and ticket for inviting the credential's
// owner. The session is not mutated; the caller applies the record.
func (e *Engine) AddMember(s domain.GroupSession, invitee domain.PrekeyCredential) (domain.MembershipChangeRecord, domain.JoinTicket, error) {
	sess, err := own(s)
	if err != nil {
		return domain.MembershipChangeRecord{}, domain.JoinTicket{}, err
	}
	if !crypto.VerifyEd25519(invitee.SigPub, credentialTBS(invitee), invitee.Sig) {
		return domain.MembershipChangeRecord{}, domain.JoinTicket{}, fmt.Errorf("invitee credential %s: %w", invitee.ID, domain.ErrValidation)
	}
	if invitee.Expired(time.Now()) {
		return domain.MembershipChangeRecord{}, domain.JoinTicket{}, fmt.Errorf("invitee credential %s expired: %w", invitee.ID, domain.ErrValidation)
	}

	commit, err := groupkey.NewCommit()
	if err != nil {
		return domain.MembershipChangeRecord{}, domain.JoinTicket{}, err
	}

	// Record: sealed to the pre-change generation.
	body, err := cbor.Marshal(changeBody{Member: invitee.Owner, Commit: commit})
	if err != nil {
		return domain.MembershipChangeRecord{}, domain.JoinTicket{}, err
	}
	recKey := groupkey.RecordKey(sess.secret, sess.generation)
	sealed, err := groupkey.Seal(recKey, recordAD(sess.id, sess.generation, sess.self), body)
	memzero.Zero(recKey)
	memzero.Zero(body)
	if err != nil {
		return domain.MembershipChangeRecord{}, domain.JoinTicket{}, err
	}
	record := domain.MembershipChangeRecord{
		GroupID:          sess.id,
		GenerationBefore: sess.generation,
		Originator:       sess.self,
		Payload:          sealed,
	}

	// Ticket: post-change state sealed to the invitee's credential key.
	next := groupkey.Advance(sess.secret, commit)
	members := append(sess.Members(), invitee.Owner)
	tb, err := cbor.Marshal(ticketBody{
		GroupID:    sess.id,
		Name:       sess.name,
		Generation: sess.generation + 1,
		Members:    members,
		Secret:     next,
	})
	memzero.Zero(next)
	if err != nil {
		return domain.MembershipChangeRecord{}, domain.JoinTicket{}, err
	}
	box, err := groupkey.SealTo(invitee.DHPub, ticketAD(invitee.Owner, sess.self), tb)
	memzero.Zero(tb)
	if err != nil {
		return domain.MembershipChangeRecord{}, domain.JoinTicket{}, err
	}
	payload, err := cbor.Marshal(ticketFrame{CredentialID: invitee.ID, Box: box})
	if err != nil {
		return domain.MembershipChangeRecord{}, domain.JoinTicket{}, err
	}
	ticket := domain.JoinTicket{
		Target:     invitee.Owner,
		Originator: sess.self,
		Payload:    payload,
	}
	return record, ticket, nil
}

// ApplyChange validates rec at the session's current generation and advances
// it by one. The session is untouched on any failure.
func (e *Engine) ApplyChange(s domain.GroupSession, rec domain.MembershipChangeRecord) error {
	sess, err := own(s)
	if err != nil {
		return err
	}
	if rec.GroupID != sess.id {
		return fmt.Errorf("record for group %s applied to %s: %w", rec.GroupID, sess.id, domain.ErrValidation)
	}
	if rec.GenerationBefore != sess.generation {
		return fmt.Errorf("record at generation %d, session at %d: %w", rec.GenerationBefore, sess.generation, domain.ErrValidation)
	}

	recKey := groupkey.RecordKey(sess.secret, sess.generation)
	body, err := groupkey.Open(recKey, recordAD(sess.id, sess.generation, rec.Originator), rec.Payload)
	memzero.Zero(recKey)
	if err != nil {
		return fmt.Errorf("record from %s: %w", rec.Originator, domain.ErrValidation)
	}
	var change changeBody
	if err := cbor.Unmarshal(body, &change); err != nil {
		return fmt.Errorf("record body: %w", domain.ErrValidation)
	}

	next := groupkey.Advance(sess.secret, change.Commit)
	memzero.Zero(sess.secret)
	sess.secret = next
	sess.generation++
	sess.members[change.Member] = struct{}{}
	return nil
}

// ApplyJoin materializes a brand-new session from a join ticket. The keyring
// supplies the private half of the credential the ticket was sealed to.
func (e *Engine) ApplyJoin(self domain.Identity, t domain.JoinTicket, keys domain.CredentialKeyring) (domain.GroupSession, error) {
	if t.Target != self.Name {
		return nil, fmt.Errorf("ticket for %s: %w", t.Target, domain.ErrValidation)
	}
	var frame ticketFrame
	if err := cbor.Unmarshal(t.Payload, &frame); err != nil {
		return nil, fmt.Errorf("ticket frame: %w", domain.ErrValidation)
	}
	priv, ok, err := keys.CredentialKey(frame.CredentialID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no key for credential %s: %w", frame.CredentialID, domain.ErrValidation)
	}
	pub, err := publicOf(priv)
	if err != nil {
		return nil, err
	}
	body, err := groupkey.OpenFrom(priv, pub, ticketAD(t.Target, t.Originator), frame.Box)
	if err != nil {
		return nil, fmt.Errorf("ticket from %s: %w", t.Originator, domain.ErrValidation)
	}
	var tb ticketBody
	if err := cbor.Unmarshal(body, &tb); err != nil {
		return nil, fmt.Errorf("ticket body: %w", domain.ErrValidation)
	}
	if len(tb.Secret) != groupkey.SecretSize {
		return nil, fmt.Errorf("ticket secret: %w", domain.ErrValidation)
	}

	members := make(map[domain.Username]struct{}, len(tb.Members))
	for _, m := range tb.Members {
		members[m] = struct{}{}
	}
	return &Session{
		id:         tb.GroupID,
		name:       tb.Name,
		self:       self.Name,
		generation: tb.Generation,
		secret:     tb.Secret,
		members:    members,
	}, nil
}

// TicketCredential reports which credential the ticket was sealed to.
func (e *Engine) TicketCredential(t domain.JoinTicket) (domain.CredentialID, error) {
	var frame ticketFrame
	if err := cbor.Unmarshal(t.Payload, &frame); err != nil {
		return "", fmt.Errorf("ticket frame: %w", domain.ErrValidation)
	}
	return frame.CredentialID, nil
}

// Encrypt seals plaintext at the session's current generation.
func (e *Engine) Encrypt(s domain.GroupSession, plaintext []byte) ([]byte, error) {
	sess, err := own(s)
	if err != nil {
		return nil, err
	}
	key := groupkey.MessageKey(sess.secret, sess.generation)
	box, err := groupkey.Seal(key, messageAD(sess.id, sess.generation, sess.self), plaintext)
	memzero.Zero(key)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(messageFrame{Sender: sess.self, Box: box})
}

// Decrypt opens a ciphertext frame at the current generation. The local
// identity's own frames are refused with ErrOwnMessage before any key work.
func (e *Engine) Decrypt(s domain.GroupSession, ciphertext []byte) (domain.Username, []byte, error) {
	sess, err := own(s)
	if err != nil {
		return "", nil, err
	}
	var frame messageFrame
	if err := cbor.Unmarshal(ciphertext, &frame); err != nil {
		return "", nil, fmt.Errorf("message frame: %w", domain.ErrValidation)
	}
	if frame.Sender == sess.self {
		return frame.Sender, nil, domain.ErrOwnMessage
	}
	key := groupkey.MessageKey(sess.secret, sess.generation)
	pt, err := groupkey.Open(key, messageAD(sess.id, sess.generation, frame.Sender), frame.Box)
	memzero.Zero(key)
	if err != nil {
		return frame.Sender, nil, fmt.Errorf("message from %s: %w", frame.Sender, domain.ErrValidation)
	}
	return frame.Sender, pt, nil
}

// exportedSession is the serialized form of a session. It carries the
// generation secret and must only ever be written sealed at rest.
type exportedSession struct {
	GroupID    domain.GroupID    `cbor:"1,keyasint"`
	Name       string            `cbor:"2,keyasint"`
	Generation uint64            `cbor:"3,keyasint"`
	Members    []domain.Username `cbor:"4,keyasint"`
	Secret     []byte            `cbor:"5,keyasint"`
}

// ExportSession serializes a session for sealed storage.
func (e *Engine) ExportSession(s domain.GroupSession) ([]byte, error) {
	sess, err := own(s)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(exportedSession{
		GroupID:    sess.id,
		Name:       sess.name,
		Generation: sess.generation,
		Members:    sess.Members(),
		Secret:     sess.secret,
	})
}

// ImportSession reverses ExportSession for the local identity.
func (e *Engine) ImportSession(self domain.Identity, blob []byte) (domain.GroupSession, error) {
	var ex exportedSession
	if err := cbor.Unmarshal(blob, &ex); err != nil {
		return nil, fmt.Errorf("session blob: %w", domain.ErrValidation)
	}
	if len(ex.Secret) != groupkey.SecretSize {
		return nil, fmt.Errorf("session secret: %w", domain.ErrValidation)
	}
	members := make(map[domain.Username]struct{}, len(ex.Members))
	for _, m := range ex.Members {
		members[m] = struct{}{}
	}
	return &Session{
		id:         ex.GroupID,
		name:       ex.Name,
		self:       self.Name,
		generation: ex.Generation,
		secret:     ex.Secret,
		members:    members,
	}, nil
}

// own asserts that the session came from this engine.
func own(s domain.GroupSession) (*Session, error) {
	sess, ok := s.(*Session)
	if !ok || sess == nil {
		return nil, fmt.Errorf("engine: foreign session type %T", s)
	}
	return sess, nil
}

func credentialTBS(c domain.PrekeyCredential) []byte {
	b := make([]byte, 0, len(c.ID)+len(c.Owner)+32+8)
	b = append(b, c.ID...)
	b = append(b, c.Owner...)
	b = append(b, c.DHPub.Slice()...)
	b = binary.BigEndian.AppendUint64(b, uint64(c.NotAfter))
	return b
}

func recordAD(id domain.GroupID, gen uint64, originator domain.Username) []byte {
	return ad("record", string(id), gen, string(originator))
}

func messageAD(id domain.GroupID, gen uint64, sender domain.Username) []byte {
	return ad("message", string(id), gen, string(sender))
}

func ticketAD(target, originator domain.Username) []byte {
	return ad("ticket", string(target), 0, string(originator))
}

func ad(kind, a string, gen uint64, b string) []byte {
	out := make([]byte, 0, len(kind)+len(a)+len(b)+10)
	out = append(out, kind...)
	out = append(out, 0)
	out = append(out, a...)
	out = binary.BigEndian.AppendUint64(out, gen)
	out = append(out, b...)
	return out
}

func publicOf(priv domain.X25519Private) (domain.X25519Public, error) {
	var pub domain.X25519Public
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], pb)
	return pub, nil
}
