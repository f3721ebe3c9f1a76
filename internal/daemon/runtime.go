package daemon

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/peva0411/focusgate/internal/blocker"
	"github.com/peva0411/focusgate/internal/budget"
	"github.com/peva0411/focusgate/internal/domain"
	"github.com/peva0411/focusgate/internal/engine"
	"github.com/peva0411/focusgate/internal/infra"
	"github.com/peva0411/focusgate/internal/notify"
	"github.com/peva0411/focusgate/internal/schedule"
	"github.com/peva0411/focusgate/internal/server"
	"github.com/peva0411/focusgate/internal/store"
)

const stateDBName = "state.db"

// Options configures a daemon Runtime.
type Options struct {
	DataDir         string // State, secrets and registry location
	RulesPath       string // Published rules document; default <DataDir>/rules.json
	InterstitialURL string // Extension interstitial page rules redirect to
	Port            int    // RPC listen port; 0 picks an ephemeral one
	Version         string
	Logger          *zap.Logger
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	if dir := os.Getenv("FOCUSGATE_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".focusgate"
	}
	return filepath.Join(home, ".local", "share", "focusgate")
}

// Runtime owns every long-lived component of the daemon process.
type Runtime struct {
	opts    Options
	logger  *zap.Logger
	storage *store.BoltStore
	secrets *infra.EncryptedSecrets
	coord   *engine.Coordinator
	httpSrv *server.HTTPServer
	reg     *infra.FileRegistry
}

// NewRuntime builds the full component graph: encrypted secret store, bolt
// state store, engine coordinator and authenticated RPC endpoint.
func NewRuntime(opts Options) (*Runtime, error) {
	if opts.DataDir == "" {
		opts.DataDir = DefaultDataDir()
	}
	if opts.RulesPath == "" {
		opts.RulesPath = filepath.Join(opts.DataDir, "rules.json")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger

	clock := infra.NewSystemClock()

	key, err := infra.EnsureKey(infra.NewFileKeyProvider(opts.DataDir))
	if err != nil {
		return nil, fmt.Errorf("prepare encryption key: %w", err)
	}
	secrets, err := infra.NewEncryptedSecrets(opts.DataDir, key)
	if err != nil {
		return nil, fmt.Errorf("open secret store: %w", err)
	}
	token, err := ensureRPCToken(secrets)
	if err != nil {
		secrets.Close()
		return nil, err
	}

	storage, err := store.OpenBolt(filepath.Join(opts.DataDir, stateDBName))
	if err != nil {
		secrets.Close()
		return nil, err
	}

	persisted, err := store.Load(context.Background(), storage, logger)
	if err != nil {
		storage.Close()
		secrets.Close()
		return nil, fmt.Errorf("load persisted state: %w", err)
	}

	var notifier domain.Notifier
	if dn, err := notify.NewDBusNotifier(logger); err != nil {
		logger.Warn("desktop notifications unavailable", zap.Error(err))
		notifier = notify.NopNotifier{}
	} else {
		notifier = dn
	}

	evaluator := schedule.NewEvaluator(clock, logger)
	tracker := budget.NewTracker(clock, storage, notifier,
		persisted.BudgetConfig, persisted.BudgetToday, persisted.BudgetHistory, logger)
	installer := infra.NewFileRuleInstaller(opts.RulesPath, clock)
	sync := blocker.NewSynchronizer(installer, opts.InterstitialURL, logger)

	coord := engine.New(engine.DefaultConfig(), clock, storage, evaluator, tracker, sync, persisted, logger)
	reg := infra.NewFileRegistry(opts.DataDir, clock)
	coord.SetRegistry(reg)

	rpc := server.NewRPCServer(&server.RPCConfig{Secret: token, Version: opts.Version}, coord)
	httpSrv := server.NewHTTPServer(rpc, logger)

	return &Runtime{
		opts:    opts,
		logger:  logger,
		storage: storage,
		secrets: secrets,
		coord:   coord,
		httpSrv: httpSrv,
		reg:     reg,
	}, nil
}

// Run starts the engine loop and RPC endpoint and blocks until the context
// is canceled or either part fails.
func (r *Runtime) Run(ctx context.Context) error {
	addr, err := r.httpSrv.Listen(r.opts.Port)
	if err != nil {
		r.close()
		return err
	}

	pm := infra.NewProcessManager()
	entry := domain.RegistryEntry{
		PID:        pm.GetCurrentPID(),
		ListenAddr: addr,
		AppVersion: r.opts.Version,
	}
	if err := r.reg.Register(entry); err != nil {
		r.logger.Warn("failed to register daemon", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- r.coord.Run(ctx) }()
	go func() { errCh <- r.httpSrv.Serve() }()

	r.logger.Info("daemon started",
		zap.Int("pid", entry.PID),
		zap.String("addr", addr),
		zap.String("data_dir", r.opts.DataDir))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := r.httpSrv.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("rpc shutdown failed", zap.Error(err))
	}
	if err := r.reg.Clear(); err != nil {
		r.logger.Warn("failed to clear daemon registry", zap.Error(err))
	}
	r.close()

	r.logger.Info("daemon stopped")
	return runErr
}

func (r *Runtime) close() {
	if err := r.storage.Close(); err != nil {
		r.logger.Warn("failed to close state store", zap.Error(err))
	}
	if err := r.secrets.Close(); err != nil {
		r.logger.Warn("failed to close secret store", zap.Error(err))
	}
}

// ensureRPCToken returns the stored RPC auth token, generating and storing a
// fresh one on first start.
func ensureRPCToken(secrets domain.SecretStore) (string, error) {
	if token, err := secrets.GetSecret(infra.SecretKeyRPCToken); err == nil && token != "" {
		return token, nil
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate rpc token: %w", err)
	}
	token := hex.EncodeToString(raw)
	if err := secrets.SetSecret(infra.SecretKeyRPCToken, token); err != nil {
		return "", fmt.Errorf("store rpc token: %w", err)
	}
	return token, nil
}
