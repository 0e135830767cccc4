package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/sync/errgroup"

	"chorus/internal/logging"
	"chorus/internal/registry"
	"chorus/internal/relay"
)

const shutdownGrace = 5 * time.Second

// config is the relay's TOML configuration file.
type config struct {
	// Addr is the HTTP listen address.
	Addr string
	// DataDir holds the credential registry database.
	DataDir string
	// ReservationTTLSeconds bounds how long a reservation may stay pending.
	ReservationTTLSeconds int
	// SweepIntervalSeconds is how often expired state is released.
	SweepIntervalSeconds int

	Logging struct {
		File  string
		Level string
	}
}

func defaultConfig() config {
	c := config{
		Addr:    ":8080",
		DataDir: "relay-data",
	}
	c.Logging.Level = "INFO"
	return c
}

func loadConfig(path string) (config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

func run() error {
	cfgPath := flag.String("f", "", "path to the TOML configuration file")
	addr := flag.String("addr", "", "listen address (overrides the config file)")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	backend, err := logging.New(cfg.Logging.File, cfg.Logging.Level, false)
	if err != nil {
		return err
	}
	log := backend.GetLogger("relay")

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return err
	}
	reg, err := registry.New(registry.Options{
		Path:           filepath.Join(cfg.DataDir, "registry.db"),
		ReservationTTL: time.Duration(cfg.ReservationTTLSeconds) * time.Second,
		SweepInterval:  time.Duration(cfg.SweepIntervalSeconds) * time.Second,
		Log:            backend.GetLogger("registry"),
	})
	if err != nil {
		return err
	}
	defer reg.Close()

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: relay.NewServer(reg, log).Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Infof("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}
