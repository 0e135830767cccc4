// Package client runs the per-process event loop that owns all mutable
// session and pool state.
//
// Incoming envelopes, user-visible deliveries and the periodic pool refresh
// are serialized through one goroutine: the loop computes the next deadline
// (poll or refresh) and waits on it, so crypto state is never mutated from
// two tasks at once and no locking is needed above the stores.
package client

import (
	"context"
	"time"

	"gopkg.in/op/go-logging.v1"

	"chorus/internal/domain"
	"chorus/internal/services/group"
	"chorus/internal/services/pool"
)

const (
	// DefaultPollInterval is how often the inbox is drained.
	DefaultPollInterval = 2 * time.Second
	// DefaultRefreshInterval is how often the credential pool reconciles.
	DefaultRefreshInterval = time.Minute

	fetchLimit = 64
)

// Runner is the client event loop.
type Runner struct {
	self    domain.Username
	router  domain.RouterClient
	pool    *pool.Service
	groups  *group.Service
	log     *logging.Logger
	deliver func(domain.IncomingMessage)

	pollInterval    time.Duration
	refreshInterval time.Duration
}

// New returns a runner. deliver receives decrypted application messages and
// may be nil.
func New(
	self domain.Username,
	router domain.RouterClient,
	poolSvc *pool.Service,
	groupSvc *group.Service,
	pollInterval, refreshInterval time.Duration,
	deliver func(domain.IncomingMessage),
	log *logging.Logger,
) *Runner {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	return &Runner{
		self:            self,
		router:          router,
		pool:            poolSvc,
		groups:          groupSvc,
		log:             log,
		deliver:         deliver,
		pollInterval:    pollInterval,
		refreshInterval: refreshInterval,
	}
}

// Run blocks until ctx is cancelled. Subscriptions are re-announced first
// (the router forgets them across restarts), then an initial pool refresh
// runs before the first poll; refresh failures are logged and retried on the
// next deadline, never fatal.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.groups.Resubscribe(ctx); err != nil {
		return err
	}
	if err := r.pool.Refresh(ctx); err != nil {
		r.log.Warningf("initial refresh: %v", err)
	}

	nextPoll := time.Now().Add(r.pollInterval)
	nextRefresh := time.Now().Add(r.refreshInterval)
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()

	for {
		// Single deadline: whichever of poll or refresh comes first.
		next := nextPoll
		if nextRefresh.Before(next) {
			next = nextRefresh
		}
		timer.Reset(time.Until(next))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		now := time.Now()
		if !now.Before(nextRefresh) {
			if err := r.pool.Refresh(ctx); err != nil {
				r.log.Warningf("refresh: %v", err)
			}
			nextRefresh = now.Add(r.refreshInterval)
		}
		if !now.Before(nextPoll) {
			r.drainInbox(ctx)
			nextPoll = now.Add(r.pollInterval)
		}
	}
}

// drainInbox fetches queued envelopes, dispatches each, and acks what was
// fetched. Per-envelope failures are reported and dropped; they never stop
// the loop or poison later envelopes.
func (r *Runner) drainInbox(ctx context.Context) {
	envs, err := r.router.Fetch(ctx, r.self, fetchLimit)
	if err != nil {
		r.log.Warningf("fetch: %v", err)
		return
	}
	if len(envs) == 0 {
		return
	}
	for _, env := range envs {
		msg, err := r.groups.HandleEnvelope(ctx, env)
		if err != nil {
			r.log.Errorf("envelope from %s: %v", env.From, err)
			continue
		}
		if msg != nil && r.deliver != nil {
			r.deliver(*msg)
		}
	}
	if err := r.router.Ack(ctx, r.self, len(envs)); err != nil {
		r.log.Warningf("ack: %v", err)
	}
}
