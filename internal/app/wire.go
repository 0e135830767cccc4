package app

import (
	"chorus/internal/client"
	"chorus/internal/domain"
	"chorus/internal/engine"
	"chorus/internal/logging"
	"chorus/internal/relay"
	groupsvc "chorus/internal/services/group"
	identitysvc "chorus/internal/services/identity"
	poolsvc "chorus/internal/services/pool"
	"chorus/internal/store"
)

// Wire bundles the stores, engine and relay client for the CLI. Services
// bound to a loaded identity are built per command via UserServices.
type Wire struct {
	Identity *identitysvc.Service
	Pool     domain.PoolStore
	Groups   domain.GroupStore
	Engine   domain.CryptoEngine
	Relay    *relay.HTTPClient
	Log      *logging.Backend

	cfg Config
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config) (*Wire, error) {
	level := cfg.LogLevel
	if level == "" {
		level = "INFO"
	}
	backend, err := logging.New("", level, false)
	if err != nil {
		return nil, err
	}

	identityStore := store.NewIdentityFileStore(cfg.Home)
	poolStore := store.NewPoolFileStore(cfg.Home)
	groupStore := store.NewGroupFileStore(cfg.Home)

	return &Wire{
		Identity: identitysvc.New(identityStore),
		Pool:     poolStore,
		Groups:   groupStore,
		Engine:   engine.New(),
		Relay:    relay.NewHTTP(cfg.RelayURL, cfg.HTTP),
		Log:      backend,
		cfg:      cfg,
	}, nil
}

// UserServices builds the identity-bound pool and group services, restoring
// any persisted sessions. The passphrase seals exported session state at
// rest.
func (w *Wire) UserServices(self domain.Identity, passphrase string) (*poolsvc.Service, *groupsvc.Service, error) {
	p := poolsvc.New(self, w.Pool, w.Relay, w.Engine, poolsvc.Config{
		Target:        w.cfg.PoolTarget,
		Watermark:     w.cfg.PoolWatermark,
		CredentialTTL: w.cfg.CredentialTTL,
	}, w.Log.GetLogger("pool"))
	sessions := store.NewSessionFileStore(w.cfg.Home, passphrase)
	g := groupsvc.New(self, w.Engine, w.Relay, w.Relay, w.Groups, w.Pool,
		sessions, w.Log.GetLogger("group"))
	if err := g.Restore(); err != nil {
		return nil, nil, err
	}
	return p, g, nil
}

// Runner builds the client event loop for self.
func (w *Wire) Runner(self domain.Identity, passphrase string, deliver func(domain.IncomingMessage)) (*client.Runner, error) {
	p, g, err := w.UserServices(self, passphrase)
	if err != nil {
		return nil, err
	}
	return client.New(self.Name, w.Relay, p, g,
		w.cfg.PollInterval, w.cfg.RefreshInterval, deliver,
		w.Log.GetLogger("client")), nil
}
