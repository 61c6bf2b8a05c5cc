// internal/launchpad/runner.go
package launchpad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ursuslabs/agent-launchpad/internal/agent"
	"github.com/ursuslabs/agent-launchpad/internal/chain/solana"
	"github.com/ursuslabs/agent-launchpad/internal/config"
	"github.com/ursuslabs/agent-launchpad/internal/curve"
	"github.com/ursuslabs/agent-launchpad/internal/dex"
	"github.com/ursuslabs/agent-launchpad/internal/engine"
	"github.com/ursuslabs/agent-launchpad/internal/events"
	"github.com/ursuslabs/agent-launchpad/internal/license"
	"github.com/ursuslabs/agent-launchpad/internal/logger"
	"github.com/ursuslabs/agent-launchpad/internal/metrics"
	"github.com/ursuslabs/agent-launchpad/internal/notify"
	"github.com/ursuslabs/agent-launchpad/internal/payments"
	"github.com/ursuslabs/agent-launchpad/internal/storage"
	"github.com/ursuslabs/agent-launchpad/internal/storage/postgres"
)

const (
	healthCheckInterval      = 30 * time.Second
	licenseHeartbeatInterval = 6 * time.Hour
	shutdownTimeout          = 10 * time.Second
)

// Runner owns the process lifecycle: license gate, component wiring,
// supervised background loops, and graceful shutdown.
type Runner struct {
	cfg    *config.Config
	logger *logger.Logger

	storage     storage.Storage
	bus         *events.Bus
	notifier    *notify.Notifier
	service     *Service
	reconciler  *engine.Reconciler
	chainClient *solana.Client
	validator   *license.Validator

	shutdownCh chan os.Signal
}

func NewRunner(cfg *config.Config, log *logger.Logger) *Runner {
	return &Runner{
		cfg:        cfg,
		logger:     log,
		shutdownCh: make(chan os.Signal, 1),
	}
}

// Initialize gates on the operator license and wires every component. The
// service facade is available afterwards.
func (r *Runner) Initialize(ctx context.Context) error {
	if err := r.gateLicense(ctx); err != nil {
		return fmt.Errorf("license validation failed: %w", err)
	}
	if err := r.build(ctx); err != nil {
		r.close()
		return err
	}
	return nil
}

// Service returns the wired facade. Nil until Initialize has succeeded.
func (r *Runner) Service() *Service {
	return r.service
}

// Run supervises the background loops until a signal arrives or a loop fails,
// then shuts everything down.
func (r *Runner) Run(ctx context.Context) error {
	if r.service == nil {
		return errors.New("runner is not initialized")
	}

	signal.Notify(r.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(r.shutdownCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case sig := <-r.shutdownCh:
			r.logger.Info("Signal received, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-runCtx.Done():
		}
	}()

	stats := r.service.Stats()
	r.logger.Info("Launchpad started",
		zap.Int("tracked_tokens", stats.TrackedTokens),
		zap.Uint64("total_agents", stats.TotalAgents),
		zap.Bool("reconciler", r.reconciler != nil))

	err := r.serve(runCtx)
	r.close()
	return err
}

func (r *Runner) gateLicense(ctx context.Context) error {
	keygenConfigured := r.cfg.KeygenAccountID != "" &&
		r.cfg.KeygenProductToken != "" &&
		r.cfg.KeygenProductID != ""

	switch {
	case keygenConfigured:
		r.validator = license.NewValidator(
			r.cfg.KeygenAccountID,
			r.cfg.KeygenProductToken,
			r.cfg.KeygenProductID,
			r.logger.Logger,
		)
		return r.validator.Validate(ctx, r.cfg.License)

	case r.cfg.License != "":
		if len(r.cfg.License) < 8 {
			return errors.New("license key is too short")
		}
		r.logger.Info("License accepted (basic mode)")
		return nil

	default:
		r.logger.Info("License gate disabled")
		return nil
	}
}

func (r *Runner) build(ctx context.Context) error {
	st, err := postgres.NewStorage(r.cfg.PostgresURL, r.logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	r.storage = st
	if err := st.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	profiles, err := curve.LoadProfiles(r.cfg.CurveProfileFile)
	if err != nil {
		return fmt.Errorf("failed to load curve profiles: %w", err)
	}
	profile, ok := profiles[r.cfg.CurveProfile]
	if !ok {
		return fmt.Errorf("unknown curve profile %q", r.cfg.CurveProfile)
	}

	collector := metrics.NewCollector()
	r.bus = events.NewBus(r.logger.Logger, r.cfg.EventBufferSize)

	store := engine.NewStore(st, r.logger.Logger, r.cfg.LockTimeout())
	if err := store.Load(ctx); err != nil {
		return err
	}

	quoter := curve.NewQuoter(profile.FeeCalculator(), profile.DefaultSlippageBps)
	executor := engine.NewTradeExecutor(store, quoter, r.bus, collector, r.logger.Logger)

	registry := agent.NewRegistry(st, store, r.bus, collector, profile, agent.FactoryConfig{
		Authority:   r.cfg.FactoryAuthority,
		Treasury:    r.cfg.PlatformTreasury,
		CreationFee: r.cfg.CreationFeeLamports,
	}, r.logger.Logger)
	if err := registry.Load(ctx); err != nil {
		return err
	}

	pay := payments.NewService(st, r.bus, collector, r.logger.Logger)

	venues := dex.NewRegistry(r.logger.Logger)
	curveVenue := dex.NewCurveVenue(executor)
	if err := venues.Register(curveVenue); err != nil {
		return err
	}
	router := dex.NewRouter(store, curveVenue, venues, r.cfg.GraduationVenue, r.logger.Logger)

	if err := r.buildNotifier(ctx, collector); err != nil {
		return err
	}

	if r.cfg.ReconcileEnabled() {
		client, err := solana.NewClient(solana.Options{
			RPCList:        r.cfg.RPCList,
			ProgramID:      r.cfg.ChainProgramID,
			Retries:        r.cfg.ChainRetries,
			RetryDelay:     r.cfg.ChainRetryDelay(),
			RequestTimeout: r.cfg.ChainRequestTimeout(),
		}, r.logger.Logger)
		if err != nil {
			return fmt.Errorf("failed to build chain client: %w", err)
		}
		r.chainClient = client
		r.reconciler = engine.NewReconciler(store, client, r.bus, collector, r.logger.Logger, engine.ReconcilerConfig{
			Interval:   r.cfg.ReconcileInterval(),
			Tolerance:  r.cfg.ReconcileTolerance,
			Workers:    r.cfg.ReconcileWorkers,
			AutoResync: r.cfg.ReconcileAutoResync,
		})
	} else {
		r.logger.Info("Chain reconciliation disabled: no rpc_list configured")
	}

	r.service = NewService(Components{
		Storage:    st,
		Store:      store,
		Quoter:     quoter,
		Executor:   executor,
		Registry:   registry,
		Payments:   pay,
		Router:     router,
		Venues:     venues,
		Reconciler: r.reconciler,
		Metrics:    collector,
	}, r.logger.Logger)

	return nil
}

func (r *Runner) buildNotifier(ctx context.Context, collector *metrics.Collector) error {
	var sinks []notify.Sink

	if r.cfg.RedisAddr != "" {
		sink, err := notify.NewRedisSink(ctx, notify.RedisOptions{
			Addr:     r.cfg.RedisAddr,
			Password: r.cfg.RedisPassword,
			DB:       r.cfg.RedisDB,
			Channel:  r.cfg.RedisChannel,
		}, r.logger.Logger)
		if err != nil {
			return fmt.Errorf("failed to build redis sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if r.cfg.AMQPURL != "" {
		sink, err := notify.NewAMQPSink(r.cfg.AMQPURL, r.cfg.AMQPExchange, r.logger.Logger)
		if err != nil {
			return fmt.Errorf("failed to build amqp sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if r.cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(r.cfg.WebhookURL, r.logger.Logger))
	}

	r.notifier = notify.NewNotifier(collector, r.logger.Logger, sinks...)
	r.notifier.Attach(r.bus)
	return nil
}

func (r *Runner) serve(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	metricsServer := &http.Server{
		Addr:              r.cfg.MetricsAddr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		r.logger.Info("Metrics endpoint listening", zap.String("addr", r.cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if r.reconciler != nil {
		g.Go(func() error {
			if err := r.reconciler.Run(gCtx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if r.chainClient != nil {
		g.Go(func() error {
			if err := r.chainClient.RunHealthChecks(gCtx, healthCheckInterval); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if r.validator != nil {
		g.Go(func() error {
			return r.heartbeatLoop(gCtx)
		})
	}

	return g.Wait()
}

func (r *Runner) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(licenseHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.validator.Heartbeat(ctx, r.cfg.License); err != nil {
				r.logger.Warn("License heartbeat failed", zap.Error(err))
			}
		}
	}
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// close tears components down in dependency order: drain the bus while the
// sinks are still open, then close sinks and storage.
func (r *Runner) close() {
	if r.bus != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := r.bus.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("Event bus did not drain in time", zap.Error(err))
		}
		cancel()
	}
	if r.notifier != nil {
		if err := r.notifier.Close(); err != nil {
			r.logger.Warn("Failed to close notification sinks", zap.Error(err))
		}
	}
	if closer, ok := r.storage.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			r.logger.Warn("Failed to close storage", zap.Error(err))
		}
	}
	r.logger.Info("Launchpad stopped")
}
