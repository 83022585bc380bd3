package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/flowboard/internal/actions"
	"github.com/dyluth/flowboard/internal/auth"
	"github.com/dyluth/flowboard/internal/cache"
	"github.com/dyluth/flowboard/internal/config"
	"github.com/dyluth/flowboard/internal/fanout"
	"github.com/dyluth/flowboard/internal/intake"
	"github.com/dyluth/flowboard/internal/layout"
	"github.com/dyluth/flowboard/internal/printer"
	"github.com/dyluth/flowboard/internal/server"
	"github.com/dyluth/flowboard/internal/store"
	"github.com/dyluth/flowboard/pkg/board"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the layout engine",
	Long: `Run the layout engine: the HTTP API, the live event stream and the
change-event workers.

Requires a reachable Redis (see 'flowboard redis up') and a JWT secret
(auth.jwt_secret or FLOWBOARD_JWT_SECRET).

Endpoints:
  GET  /healthz           Dependency and connection status
  GET  /api/layout        Layout for the bearer token's user (?projectId=)
  GET  /api/events        Server-sent events (?token=&projectId=)
  POST /webhooks/changes  Change events from the database`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Auth.JWTSecret == "" {
		return printer.Error(
			"JWT secret not configured",
			"The engine cannot verify bearer tokens without a secret.",
			[]string{"Set FLOWBOARD_JWT_SECRET or auth.jwt_secret in the config file"},
		)
	}
	if cfg.Webhook.Secret == "" {
		printer.Warning("webhook.secret is empty; /webhooks/changes accepts unauthenticated events\n")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	bb, err := connectBoard(ctx, cfg)
	if err != nil {
		return err
	}
	defer bb.Close()

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}

	layered := cache.New(bb, cfg.Instance, cache.Options{
		LocalSize: cfg.Cache.LocalSize,
		LocalTTL:  cfg.Cache.LocalTTL,
		SharedTTL: cfg.Cache.SharedTTL,
	})
	layouts := layout.NewService(layered, layout.NewBuilder(st), layout.NewResolver(st, layout.DefaultRegistry()))
	registry := fanout.NewRegistry(cfg.Fanout.HeartbeatInterval)

	pipeline := intake.NewPipeline(intake.Deps{
		Log:       st,
		Directory: st,
		Resolver:  actions.NewResolver(st),
		Cache:     layered,
		Push:      registry,
		Instance:  cfg.Instance,
	})
	queue := intake.NewQueue(pipeline, cfg.Intake.Workers, cfg.Intake.QueueSize)

	srv := server.New(server.Deps{
		Layouts:     layouts,
		Tokens:      verifier,
		Connections: registry,
		Intake:      queue,
		Database:    st,
		Redis:       bb,
		Cache:       layered,
	}, server.Options{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WebhookSecret:  cfg.Webhook.Secret,
		SendBuffer:     cfg.Fanout.SendBuffer,
	})
	if err := srv.Start(); err != nil {
		return err
	}

	log.Printf("[Serve] Instance '%s' ready (store=%s)", cfg.Instance, cfg.Store.Path)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		registry.Run(gctx)
		return nil
	})
	g.Go(func() error {
		queue.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return intake.Subscribe(gctx, bb, queue)
	})

	<-gctx.Done()
	log.Printf("[Serve] Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Streams hold their requests open, so they are closed before the
	// server waits for in-flight requests.
	registry.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Serve] HTTP shutdown error: %v", err)
	}

	runErr := g.Wait()
	layered.Flush()

	stats := queue.Stats()
	log.Printf("[Serve] Stopped (processed=%d failed=%d rejected=%d)", stats.Processed, stats.Failed, stats.Rejected)
	return runErr
}

// connectBoard opens the Redis-backed client and checks it is reachable.
func connectBoard(ctx context.Context, cfg *config.Config) (*board.Client, error) {
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	bb, err := board.NewClient(redisOpts, cfg.Instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create board client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := bb.Ping(pingCtx); err != nil {
		bb.Close()
		return nil, printer.ErrorWithContext(
			"Redis not accessible",
			fmt.Sprintf("Could not reach Redis: %v", err),
			map[string]string{"URL": cfg.Redis.URL, "Instance": cfg.Instance},
			[]string{
				"Start a local Redis: flowboard redis up",
				"Point REDIS_URL at a running Redis",
			},
		)
	}
	return bb, nil
}
