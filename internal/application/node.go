package application

import (
	"context"
	"fmt"
	"time"

	"github.com/touchlink/gateway/internal/auth"
	"github.com/touchlink/gateway/internal/config"
	"github.com/touchlink/gateway/internal/gateway"
	"github.com/touchlink/gateway/internal/health"
	"github.com/touchlink/gateway/internal/identity"
	"github.com/touchlink/gateway/internal/logger"
	"github.com/touchlink/gateway/internal/telemetry"
	"github.com/touchlink/gateway/internal/workers"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

// Node ties together the components needed to run the gateway: the hub,
// the auth verifier, the optional telemetry recorder, and the server.
type Node struct {
	ctx    context.Context
	cancel context.CancelFunc

	config     *config.Config
	Hub        *gateway.Hub
	WorkerPool *workers.WorkerPool
	Store      *telemetry.Store // nil when telemetry is disabled
	Identity   *identity.InstanceIdentity

	verifier *auth.Verifier
	server   *gateway.Server
}

// New creates and wires a Node from configuration.
func New(ctx context.Context, cfg *config.Config) (*Node, error) {
	nodeCtx, cancel := context.WithCancel(ctx)

	ident, err := identity.GetOrCreateInstanceIdentity(cfg.General.DataDir)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load instance identity: %w", err)
	}

	n := &Node{
		ctx:        nodeCtx,
		cancel:     cancel,
		config:     cfg,
		Hub:        gateway.NewHub(),
		WorkerPool: workers.NewWorkerPool(4, 1024),
		Identity:   ident,
		verifier:   auth.NewVerifier(cfg.Auth),
	}

	if cfg.Database.Enabled {
		store, err := telemetry.Connect(nodeCtx, cfg.Database)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("connect telemetry store: %w", err)
		}
		if err := store.InitializeSchema(nodeCtx); err != nil {
			store.Close()
			cancel()
			return nil, err
		}
		n.Store = store
		recorder := telemetry.NewRecorder(store, n.WorkerPool)
		n.Hub.AddTap(recorder.Tap)
	}

	checker := health.NewHealthChecker(
		storePinger(n.Store),
		n.Hub,
		cfg.Gateway.ThrottlingConfig.MaxConnections,
		logger.New("health"),
		config.Version,
	)

	n.server = gateway.NewServer(cfg, n.Hub, n.verifier,
		ident.InstanceID, healthHandler(checker))

	logger.Info("Node assembled",
		zap.String("instance_id", ident.InstanceID),
		zap.Bool("telemetry", cfg.Database.Enabled))
	return n, nil
}

// Start runs the gateway server until Shutdown or context cancellation.
func (n *Node) Start() error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- n.server.ListenAndServe(n.ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-n.ctx.Done():
		return nil
	}
}

// Shutdown stops the server, tears down every connection, drains the
// worker pool, and closes the telemetry store.
func (n *Node) Shutdown() {
	logger.Info("Initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Canceling the node context stops the server, which closes every
	// live connection before shutting the listener down.
	n.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		n.WorkerPool.Wait()
	}()
	select {
	case <-done:
		logger.Debug("Worker pool drained")
	case <-shutdownCtx.Done():
		logger.Warn("Worker pool shutdown timed out", zap.Duration("timeout", shutdownTimeout))
	}
	n.WorkerPool.Stop()

	if n.Store != nil {
		n.Store.Close()
	}

	logger.Info("Shutdown complete")
}
