package domain

// EnvelopeKind tags the three message kinds the relay routes.
type EnvelopeKind string

const (
	// KindApplication is an encrypted application message, broadcast to all
	// current subscribers of a group (the sender included).
	KindApplication EnvelopeKind = "application"
	// KindMembershipChange is a membership-change record, broadcast like an
	// application message.
	KindMembershipChange EnvelopeKind = "membership_change"
	// KindJoinTicket is a join ticket, unicast only to the target identity's
	// private inbox.
	KindJoinTicket EnvelopeKind = "join_ticket"
)

// Envelope is the wire unit posted to and fetched from the relay. GroupID is
// set for broadcast kinds, Target for join tickets. The payload is opaque to
// the relay: an encrypted record, ticket or ciphertext frame.
type Envelope struct {
	Kind      EnvelopeKind `json:"kind"`
	GroupID   GroupID      `json:"group_id,omitempty"`
	Target    Username     `json:"target,omitempty"`
	From      Username     `json:"from"`
	Payload   []byte       `json:"payload"`
	Timestamp int64        `json:"timestamp"`
}
