package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/itskum47/tierroute/control_plane/admission"
	"github.com/itskum47/tierroute/control_plane/auth"
	"github.com/itskum47/tierroute/control_plane/classifier"
	"github.com/itskum47/tierroute/control_plane/config"
	"github.com/itskum47/tierroute/control_plane/coordination"
	"github.com/itskum47/tierroute/control_plane/dispatch"
	"github.com/itskum47/tierroute/control_plane/idempotency"
	"github.com/itskum47/tierroute/control_plane/middleware"
	"github.com/itskum47/tierroute/control_plane/resilience"
	"github.com/itskum47/tierroute/control_plane/router"
	"github.com/itskum47/tierroute/control_plane/store"
	"github.com/itskum47/tierroute/control_plane/streaming"
	"github.com/itskum47/tierroute/control_plane/task"
	"github.com/itskum47/tierroute/control_plane/telemetry"
	"github.com/itskum47/tierroute/control_plane/timeline"
)

// timelineCapacity bounds the number of tasks whose lifecycle is kept in memory.
const timelineCapacity = 10000

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tierroute",
		Short:         "Route tasks to edge, cloud or accelerator executors",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd(), newCheckModelCmd(), newTokenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg.Logging, os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	return cmd
}

func newCheckModelCmd() *cobra.Command {
	var artifact string
	cmd := &cobra.Command{
		Use:   "check-model",
		Short: "Validate a classifier artifact and print a sample prediction",
		RunE: func(cmd *cobra.Command, args []string) error {
			forest, err := classifier.LoadForest(artifact)
			if err != nil {
				return err
			}
			pred, err := forest.Predict(task.Features{
				Priority:           5,
				LatencyRequirement: 5,
				CostSensitivity:    5,
				LoadEdge:           45,
				LoadCloud:          55,
				LoadAccelerator:    35,
				NetworkLatency:     100,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "artifact: %s\nversion:  %s\ntrees:    %d\n", artifact, forest.Version(), forest.Trees())
			fmt.Fprintf(out, "sample:   %s (confidence %.3f)\n", pred.Class, pred.Confidence())
			return nil
		},
	}
	cmd.Flags().StringVar(&artifact, "artifact", "models/forest-v1.yaml", "classifier artifact path")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		configPath string
		subject    string
		role       string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with auth.secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			authority, err := auth.NewAuthority(cfg.Auth.Secret)
			if err != nil {
				return err
			}
			token, err := authority.Issue(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&subject, "subject", "", "client identity carried by the token")
	cmd.Flags().StringVar(&role, "role", auth.RoleSubmitter, "viewer or submitter")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("subject")
	return cmd
}

func setupLogging(cfg config.LoggingConfig, w io.Writer) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Str("service", "tierroute").Logger()
}

func serve(ctx context.Context, cfg *config.Config) error {
	// A missing model is fatal unless a fallback was configured.
	model, err := classifier.New(classifier.Options{
		Kind:     cfg.Classifier.Kind,
		Artifact: cfg.Classifier.Artifact,
		Fallback: cfg.Classifier.Fallback,
	})
	if err != nil {
		log.Error().Err(err).Msg("refusing to serve without a classifier")
		return err
	}

	dispatcher, err := dispatch.NewDispatcher(cfg.Executors.Endpoints(), cfg.Dispatch.Timeout)
	if err != nil {
		return err
	}

	backend, err := openHistory(ctx, cfg.History)
	if err != nil {
		return err
	}
	defer backend.Close()
	history := resilience.NewDegradedHistory(backend, cfg.History.MaxPending, resilience.DefaultMaxAge)
	go history.Run(ctx, cfg.History.ReplayInterval)

	idem, closeIdem, err := openIdempotency(cfg.Redis)
	if err != nil {
		return err
	}
	defer closeIdem()

	publisher := streaming.NewLogPublisher()
	defer publisher.Close()

	tcfg := telemetry.DefaultConfig()
	tcfg.DecayProbability = cfg.Telemetry.DecayProbability
	seed := cfg.Telemetry.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	telem := telemetry.NewStore(tcfg, telemetry.NewRandom(seed))

	tl := timeline.NewStore(timelineCapacity)
	orch := NewOrchestrator(telem, router.New(model), dispatcher, history, tl, publisher)

	ac := admission.NewController(admission.Config{
		MaxInFlight: cfg.Admission.MaxInFlight,
		Rate:        cfg.Admission.Rate,
		Burst:       cfg.Admission.Burst,
	})

	monitor := coordination.NewExecutorMonitor(dispatcher, cfg.Probe.Interval)
	monitor.Start(ctx)

	nodes := NewNodeService(telem, monitor, ac, history)
	hub := NewNodeStatusHub(nodes, time.Second)
	go hub.Run(ctx)

	api := NewAPI(orch, history, nodes, tl, idem, ac, hub)
	if cfg.Auth.Secret != "" {
		authority, err := auth.NewAuthority(cfg.Auth.Secret)
		if err != nil {
			return err
		}
		api.EnableAuth(authority)
		log.Info().Msg("bearer-token auth enabled on /api/")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", api.routes())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           middleware.CORSMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("classifier", model.Name()).
			Str("history", cfg.History.Driver).
			Dur("dispatch_timeout", cfg.Dispatch.Timeout).
			Msg("tierroute control plane listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.Timeout+5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openHistory(ctx context.Context, cfg config.HistoryConfig) (store.History, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.DSN).Msg("using sqlite task history")
		return store.NewSQLiteStore(cfg.DSN)
	case "postgres":
		log.Info().Msg("using postgres task history")
		return store.NewPostgresStore(ctx, cfg.DSN)
	default:
		log.Warn().Msg("using in-memory task history (ephemeral)")
		return store.NewMemoryStore(), nil
	}
}

func openIdempotency(cfg config.RedisConfig) (idempotency.Store, func(), error) {
	if cfg.Addr == "" {
		log.Info().Msg("using in-memory idempotency store (ephemeral)")
		return idempotency.NewMemoryStore(idempotency.DefaultLockTTL), func() {}, nil
	}
	rs, err := idempotency.NewRedisStore(cfg.Addr, cfg.Password, cfg.DB, idempotency.DefaultLockTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	log.Info().Str("addr", cfg.Addr).Msg("using redis idempotency store")
	return rs, func() { rs.Close() }, nil
}
