package domain

// GroupSession is a member's view of one group: identity of the group, the
// generation counter, and the current member set. The cryptographic state
// behind it is opaque and owned by the engine; callers only ever see this
// read-only surface and pass the session back into engine operations.
type GroupSession interface {
	ID() GroupID
	Name() string
	Generation() uint64
	// Members returns the member set as reported by the crypto engine after
	// the last generation advance, sorted by username.
	Members() []Username
}

// MembershipChangeRecord is the broadcast artifact describing a group's
// transition from GenerationBefore to GenerationBefore+1. The payload is
// opaque to the relay; only members at GenerationBefore can open it.
type MembershipChangeRecord struct {
	GroupID          GroupID  `json:"group_id"`
	GenerationBefore uint64   `json:"generation_before"`
	Originator       Username `json:"originator"`
	Payload          []byte   `json:"payload"`
}

// JoinTicket is the unicast artifact letting a new member bootstrap a group
// session at the post-change generation without replaying history. It is
// produced alongside exactly one MembershipChangeRecord but delivered
// out-of-band from it.
type JoinTicket struct {
	Target     Username `json:"target"`
	Originator Username `json:"originator"`
	Payload    []byte   `json:"payload"`
}

// IncomingMessage is a decrypted application message handed to the caller.
type IncomingMessage struct {
	GroupID   GroupID
	From      Username
	Plaintext []byte
	Timestamp int64
}
