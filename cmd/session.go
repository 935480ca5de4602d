// File: cmd/session.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/internal/browser/cdp"
	"github.com/xkilldash9x/humshakals/internal/config"
	"github.com/xkilldash9x/humshakals/internal/devices"
	"github.com/xkilldash9x/humshakals/internal/kvstore"
	"github.com/xkilldash9x/humshakals/internal/network"
	"github.com/xkilldash9x/humshakals/internal/orchestrator"
	"github.com/xkilldash9x/humshakals/internal/pocket"
	"github.com/xkilldash9x/humshakals/internal/state"
)

const sessionShutdownTimeout = 15 * time.Second

// session is a running preview: the orchestrator plus everything it owns.
type session struct {
	orch  *orchestrator.Orchestrator
	store kvstore.Store
	close func()
}

// sessionProvider creates preview sessions. Tests swap in one backed by fake
// surfaces instead of a real browser.
type sessionProvider interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*session, error)
}

type defaultSessionProvider struct{}

// NewSessionProvider returns the provider that launches Chromium.
func NewSessionProvider() sessionProvider {
	return &defaultSessionProvider{}
}

// Create opens the store, starts the interception proxy when header_mode is
// "proxy", launches the browser and builds the orchestrator on top.
func (p *defaultSessionProvider) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*session, error) {
	store, err := kvstore.Open(ctx, cfg.Store(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	settings := kvstore.NewSettings(store, logger)
	registry := devices.NewRegistry(ctx, settings, logger)
	pipeline, err := pocket.New(cfg.Pocket(), settings, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	// The browser and proxy outlive individual commands but not the session.
	sessCtx, cancel := context.WithCancel(context.Background())
	opts := []cdp.HostOption{cdp.WithVersion(Version), cdp.WithCommandTimeout(cfg.Bridge().CommandTimeout)}

	var proxyDone chan error
	if cfg.Network().HeaderMode == config.HeaderModeProxy {
		pcfg, err := network.EnsureCA(cfg.Network().Proxy)
		if err != nil {
			cancel()
			store.Close()
			return nil, err
		}
		proxy, err := network.NewInterceptionProxy(pcfg, logger)
		if err != nil {
			cancel()
			store.Close()
			return nil, fmt.Errorf("failed to create interception proxy: %w", err)
		}
		ln, err := net.Listen("tcp", cfg.Network().Proxy.Address)
		if err != nil {
			cancel()
			store.Close()
			return nil, fmt.Errorf("failed to listen for the interception proxy: %w", err)
		}
		proxyDone = make(chan error, 1)
		go func() { proxyDone <- proxy.Serve(sessCtx, ln) }()
		opts = append(opts, cdp.WithProxy(ln.Addr().String()))
	}

	shutdown := func(host *cdp.Host) {
		shutdownCtx, done := context.WithTimeout(context.Background(), sessionShutdownTimeout)
		defer done()
		if host != nil {
			if err := host.Close(shutdownCtx); err != nil {
				logger.Warn("Browser did not shut down cleanly.", zap.Error(err))
			}
		}
		cancel()
		if proxyDone != nil {
			if err := <-proxyDone; err != nil {
				logger.Warn("Interception proxy stopped with an error.", zap.Error(err))
			}
		}
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close store.", zap.Error(err))
		}
	}

	host, err := cdp.NewHost(sessCtx, cfg, logger, opts...)
	if err != nil {
		shutdown(nil)
		return nil, err
	}

	orch, err := orchestrator.New(cfg, logger, orchestrator.Dependencies{
		Registry: registry,
		Store:    state.NewStore(state.Initial(cfg.Preview())),
		Factory:  host,
		Host:     host,
		Pocket:   pipeline,
	})
	if err != nil {
		shutdown(host)
		return nil, err
	}

	return &session{
		orch:  orch,
		store: store,
		close: func() {
			ctx, done := context.WithTimeout(context.Background(), sessionShutdownTimeout)
			defer done()
			orch.Close(ctx)
			shutdown(host)
		},
	}, nil
}

// storeWatcher is implemented by backends that can report external edits.
type storeWatcher interface {
	Watch(ctx context.Context, onChange func(key string)) error
}

// follow starts the orchestrator and keeps it in sync with store edits made
// by other processes until ctx is done.
func (s *session) follow(ctx context.Context, logger *zap.Logger) error {
	if err := s.orch.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		// Devices that mounted stay usable.
		logger.Warn("Some devices failed to mount.", zap.Error(err))
	}
	watchConfig(ctx, s.orch.Pocket())

	w, ok := s.store.(storeWatcher)
	if !ok {
		return nil
	}
	return w.Watch(ctx, func(key string) {
		if err := s.orch.Resync(ctx, key); err != nil {
			logger.Warn("Failed to apply external store change.", zap.String("key", key), zap.Error(err))
		}
	})
}

// openSettings opens the configured store for the one-shot commands.
func openSettings(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*kvstore.Settings, func(), error) {
	store, err := kvstore.Open(ctx, cfg.Store(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Debug("Failed to close store.", zap.Error(err))
		}
	}
	return kvstore.NewSettings(store, logger), cleanup, nil
}
