package engine

import (
	"sort"

	"chorus/internal/domain"
)

// Session is the engine's group session state. The generation secret never
// leaves this struct except sealed inside a join ticket.
type Session struct {
	id         domain.GroupID
	name       string
	self       domain.Username
	generation uint64
	secret     []byte
	members    map[domain.Username]struct{}
}

// ID returns the group identifier.
func (s *Session) ID() domain.GroupID { return s.id }

// Name returns the group's display name, as carried in the join ticket's
// encrypted payload.
func (s *Session) Name() string { return s.name }

// Generation returns the current generation counter.
func (s *Session) Generation() uint64 { return s.generation }

// Members returns the current member set, sorted by username.
func (s *Session) Members() []domain.Username {
	out := make([]domain.Username, 0, len(s.members))
	for m := range s.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var _ domain.GroupSession = (*Session)(nil)
