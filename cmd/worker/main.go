// Command worker runs a single distributed-compute worker node: it
// connects to a coordinator, optionally polls an HTTP task endpoint, joins
// a peer mesh, and executes assignments against its local backends.
//
// Flag parsing and the fatal-error exit-code convention use
// flag.String plus os.Exit on a classified error, with a
// signal.NotifyContext shutdown suited to a long-running service
// entrypoint rather than a one-shot CLI operation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ai4all/worker/internal/backend"
	"github.com/ai4all/worker/internal/config"
	"github.com/ai4all/worker/internal/coordinator"
	"github.com/ai4all/worker/internal/executor"
	"github.com/ai4all/worker/internal/group"
	"github.com/ai4all/worker/internal/httppoll"
	"github.com/ai4all/worker/internal/identity"
	"github.com/ai4all/worker/internal/logging"
	"github.com/ai4all/worker/internal/peer"
	"github.com/ai4all/worker/internal/signing"
	"github.com/ai4all/worker/internal/supervisor"
	"github.com/ai4all/worker/internal/task"
	"github.com/ai4all/worker/internal/wkerrors"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path")
		coordURL   = flag.String("coordinator", "", "Coordinator WebSocket URL (overrides config)")
		name       = flag.String("name", "", "Worker display name (overrides config)")
		debugAddr  = flag.String("debug-addr", "", "Address for the debug/health HTTP server, e.g. :9090")
	)
	flag.Parse()

	if err := run(*configFile, *coordURL, *name, *debugAddr); err != nil {
		we := wkerrors.AsWorkerError(err)
		logging.Default().Error(fmt.Sprintf("[%s] %s", we.Code, we.Message))
		fmt.Fprintf(os.Stderr, "\033[31mError [%s]:\033[0m %s\n", we.Code, we.Message)
		if we.Hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", we.Hint)
		}
		os.Exit(we.Family.ExitCode())
	}
}

func run(configFile, coordURLOverride, nameOverride, debugAddr string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return wkerrors.Wrap(wkerrors.CodeConfig, wkerrors.FamilyConfiguration, "load configuration", err)
	}
	if coordURLOverride != "" {
		cfg.Coordinator.URL = coordURLOverride
	}
	if nameOverride != "" {
		cfg.Coordinator.Name = nameOverride
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.InfoLevel
	}
	format := logging.TextFormat
	if cfg.Logging.Format == "json" {
		format = logging.JSONFormat
	}
	logging.Init(&logging.Config{Level: level, Format: format, Component: "worker"})
	log := logging.Default()

	id, err := identity.Load(cfg.Storage.DataDir, cfg.HTTP.AccountID)
	if err != nil {
		return wkerrors.Wrap(wkerrors.CodeIO, wkerrors.FamilyIO, "load identity", err)
	}
	log.Info("worker identity resolved", map[string]interface{}{"id": id.ID, "paired": id.Paired})

	registry := backend.NewRegistry()
	registerConfiguredBackends(registry, cfg)

	tracker := task.NewTracker(cfg.Backends.MaxConcurrent * 4)
	exec := executor.New(tracker, registry, cfg.Backends.MaxConcurrent, log)

	mesh := peer.NewMesh(peer.ID(id.ID), cfg.Peer.MaxPeers, log)
	peers := peer.NewRegistry()
	groups := group.NewManager()

	if cfg.Peer.ListenPort > 0 {
		if err := mesh.Listen(fmt.Sprintf(":%d", cfg.Peer.ListenPort)); err != nil {
			return wkerrors.Wrap(wkerrors.CodeConnection, wkerrors.FamilyConnection, "start peer mesh listener", err)
		}
		log.Info("peer mesh listening", map[string]interface{}{"addr": mesh.Addr()})
	}

	var session *coordinator.Session
	if cfg.Coordinator.URL != "" {
		session = coordinator.NewSession(coordinator.Config{
			URL:                   cfg.Coordinator.URL,
			Name:                  cfg.Coordinator.Name,
			Tags:                  cfg.Coordinator.Tags,
			Capabilities:          backendNames(registry),
			AuthToken:             cfg.Coordinator.AuthToken,
			ConnectTimeout:        cfg.Coordinator.ConnectTimeout,
			InitialReconnectDelay: cfg.Coordinator.InitialReconnectDelay,
			MaxReconnectDelay:     cfg.Coordinator.MaxReconnectDelay,
			MaxReconnectAttempts:  cfg.Coordinator.MaxReconnectAttempts,
		}, id.ID, log)
	}

	var poller *httppoll.Poller
	if cfg.HTTP.BaseURL != "" {
		var signer signing.Signer = signing.NoopSigner{}
		listenAddr := ""
		if cfg.Peer.ListenPort > 0 {
			listenAddr = mesh.Addr()
		}
		poller = httppoll.New(httppoll.Config{
			BaseURL:      cfg.HTTP.BaseURL,
			AccountID:    cfg.HTTP.AccountID,
			WorkerID:     id.ID,
			ListenAddr:   listenAddr,
			Capabilities: backendNames(registry),
			PollInterval: cfg.HTTP.PollInterval,
		}, signer, log)
	}

	sup := supervisor.New(supervisor.Config{
		IdentityID: id.ID,
		Tracker:    tracker,
		Registry:   registry,
		Executor:   exec,
		Mesh:       mesh,
		Peers:      peers,
		Groups:     groups,
		Session:    session,
		Poller:     poller,
		PeerStaleTimeout: cfg.Peer.StaleTimeout,
		DebugAddr:  debugAddr,
	}, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("worker starting", map[string]interface{}{"id": id.ID})
	if err := sup.Run(ctx); err != nil {
		return wkerrors.Wrap(wkerrors.CodeInternal, wkerrors.FamilyInternal, "supervisor exited with error", err)
	}
	log.Info("worker stopped", nil)
	return nil
}

func registerConfiguredBackends(registry *backend.Registry, cfg *config.Config) {
	mock := backend.NewMockBackend(0)
	registry.Register(mock)

	cpu := backend.NewCPUBackend(0)
	_ = cpu.LoadModel(context.Background(), backend.ModelSpec{ModelID: "local-cpu"})
	registry.Register(cpu)

	for name, raw := range cfg.Backends.Settings {
		var settings struct {
			BaseURL string `json:"base_url"`
			APIKey  string `json:"api_key"`
		}
		if err := json.Unmarshal(raw, &settings); err != nil || settings.BaseURL == "" {
			continue
		}
		registry.Register(backend.NewHTTPAPIBackend(name, settings.BaseURL, settings.APIKey))
	}
}

func backendNames(registry *backend.Registry) []string {
	names := make([]string, 0)
	for _, b := range registry.All() {
		names = append(names, b.Name())
	}
	return names
}
