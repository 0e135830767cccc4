package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"chorus/internal/domain"
	"chorus/internal/registry"
)

// Server is the relay router plus the HTTP face of the credential registry.
// Inbox and subscription state is held in memory; the registry behind it is
// durable.
type Server struct {
	log *logging.Logger
	reg *registry.Registry

	mu      sync.Mutex
	inboxes map[domain.Username][]domain.Envelope
	subs    map[domain.GroupID]map[domain.Username]struct{}
}

// NewServer returns a router backed by reg.
func NewServer(reg *registry.Registry, log *logging.Logger) *Server {
	return &Server{
		log:     log,
		reg:     reg,
		inboxes: make(map[domain.Username][]domain.Envelope),
		subs:    make(map[domain.GroupID]map[domain.Username]struct{}),
	}
}

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /credentials", s.handleUpload)
	mux.HandleFunc("GET /credentials/{user}", s.handleListAvailable)
	mux.HandleFunc("POST /credentials/{user}/reserve", s.handleReserve)
	mux.HandleFunc("POST /reservations/{id}/spend", s.handleSpend)
	mux.HandleFunc("POST /groups/{gid}/subscribe", s.handleSubscribe)
	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("GET /inbox/{user}", s.handleFetch)
	mux.HandleFunc("POST /inbox/{user}/ack", s.handleAck)
	return s.accessLog(mux)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var cred domain.PrekeyCredential
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if cred.ID == "" || cred.Owner == "" {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if err := s.reg.Upload(cred); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListAvailable(w http.ResponseWriter, r *http.Request) {
	user := domain.Username(r.PathValue("user"))
	ids, err := s.reg.ListAvailable(user)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, struct {
		Available []domain.CredentialID `json:"available"`
	}{Available: ids})
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	target := domain.Username(r.PathValue("user"))
	var req struct {
		Reserver domain.Username `json:"reserver"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reserver == "" {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	res, err := s.reg.Reserve(target, req.Reserver)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	id := domain.ReservationID(r.PathValue("id"))
	var req struct {
		Caller domain.Username `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Caller == "" {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if err := s.reg.Spend(id, req.Caller); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	gid := domain.GroupID(r.PathValue("gid"))
	var req struct {
		User domain.Username `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User == "" {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	s.mu.Lock()
	if s.subs[gid] == nil {
		s.subs[gid] = make(map[domain.Username]struct{})
	}
	s.subs[gid][req.User] = struct{}{}
	s.mu.Unlock()
	s.log.Debugf("subscribed %s to %s", req.User, gid)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var env domain.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if env.From == "" {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().Unix()
	}
	if err := s.route(env); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// route dispatches by envelope kind: broadcast kinds fan out to every
// current subscriber of the group, sender included; join tickets go only to
// the target's private inbox.
func (s *Server) route(env domain.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch env.Kind {
	case domain.KindApplication, domain.KindMembershipChange:
		if env.GroupID == "" {
			return errors.New("broadcast without group id")
		}
		for user := range s.subs[env.GroupID] {
			s.inboxes[user] = append(s.inboxes[user], env)
		}
		s.log.Debugf("broadcast %s from %s to %d subscribers of %s",
			env.Kind, env.From, len(s.subs[env.GroupID]), env.GroupID)
	case domain.KindJoinTicket:
		if env.Target == "" {
			return errors.New("join ticket without target")
		}
		s.inboxes[env.Target] = append(s.inboxes[env.Target], env)
		s.log.Debugf("join ticket from %s to %s", env.From, env.Target)
	default:
		return errors.New("unknown envelope kind")
	}
	return nil
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	user := domain.Username(r.PathValue("user"))
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request")
			return
		}
		limit = n
	}
	s.mu.Lock()
	queue := s.inboxes[user]
	if limit > 0 && limit < len(queue) {
		queue = queue[:limit]
	}
	out := make([]domain.Envelope, len(queue))
	copy(out, queue)
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	user := domain.Username(r.PathValue("user"))
	var req struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Count < 0 {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	s.mu.Lock()
	queue := s.inboxes[user]
	if req.Count >= len(queue) {
		delete(s.inboxes, user)
	} else {
		s.inboxes[user] = queue[req.Count:]
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPoolExhausted):
		writeError(w, http.StatusNotFound, "pool_exhausted")
	case errors.Is(err, domain.ErrDuplicateCredential):
		writeError(w, http.StatusConflict, "duplicate_credential")
	case errors.Is(err, domain.ErrInvalidReservation):
		writeError(w, http.StatusConflict, "invalid_reservation")
	default:
		s.log.Errorf("registry: %v", err)
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

// accessLog records method, path, remote and duration for each request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debugf("%s %s %s %s", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: code})
}
