package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/l1jgo/gamegate/internal/auth"
	"github.com/l1jgo/gamegate/internal/config"
	"github.com/l1jgo/gamegate/internal/data"
	"github.com/l1jgo/gamegate/internal/gateway"
	"github.com/l1jgo/gamegate/internal/handler"
	"github.com/l1jgo/gamegate/internal/metrics"
	gonet "github.com/l1jgo/gamegate/internal/net"
	"github.com/l1jgo/gamegate/internal/persist"
	"github.com/l1jgo/gamegate/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, value any) {
	v := fmt.Sprint(value)
	dotsLen := 42 - len(label) - len(v)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), v)
}

func run() error {
	configPath := flag.String("config", "", "path to server.toml (default $"+config.EnvPath+")")
	flag.Parse()

	// 1. Config and logging
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	fmt.Printf("\n  \033[36;1m%s\033[0m \033[90m(id %d)\033[0m\n\n", cfg.Server.Name, cfg.Server.ID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Metrics
	var sink metrics.Sink = metrics.Nop{}
	var metricsHTTP *http.Server
	if cfg.Metrics.Enabled {
		prom, err := metrics.NewPrometheus(cfg.Metrics.Namespace)
		if err != nil {
			return err
		}
		sink = prom
		metricsHTTP = &http.Server{Addr: cfg.Metrics.BindAddress, Handler: prom.Handler()}
	}

	// 3. Database
	printSection("storage")
	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	printStat("postgres", "ok")

	tokens, closeTokens, err := newTokenCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeTokens()
	if cfg.Redis.Addr != "" {
		printStat("redis", cfg.Redis.Addr)
	} else {
		printStat("token cache", "in-process")
	}

	// 4. Static data
	printSection("data")
	scenes, err := data.LoadSceneTable(cfg.Data.Scenes)
	if err != nil {
		return err
	}
	printStat("scenes", scenes.Count())

	// 5. Online registry and handlers
	online := world.NewOnlineRegistry(world.OnlineOptions{
		Shards:               cfg.Online.Shards,
		BroadcastConcurrency: cfg.Online.BroadcastConcurrency,
	}, sink, log)
	defer online.Close()

	deps := &handler.Deps{
		Config: cfg,
		Log:    log,
		Online: online,
		Scenes: scenes,
		Tokens: tokens,
		Auth: auth.Options{
			Secret:     []byte(cfg.Auth.JWTSecret),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			TokenTTL:   cfg.Auth.TokenTTL,
			BcryptCost: cfg.Auth.BcryptCost,
		},
		Metrics: sink,
		Stores:  handler.PostgresStores(db),
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.LoginAttemptsPerMinute > 0 {
		deps.Logins = handler.NewLoginLimiter(cfg.RateLimit.LoginAttemptsPerMinute)
	}

	reg := gateway.NewRegistry(log)
	handler.RegisterAll(reg, deps)
	reg.Freeze()
	gw := gateway.New(reg, deps.NewScope, sink, gateway.Options{
		HandlerTimeout: cfg.Network.HandlerTimeout,
	}, log)
	printStat("handlers", reg.Len())

	// 6. Transport
	opts := gonet.SessionOptions{
		InQueueSize:    cfg.Network.InQueueSize,
		OutQueueSize:   cfg.Network.OutQueueSize,
		ReadBufferSize: cfg.Network.ReadBufferSize,
		ReadTimeout:    cfg.Network.ReadTimeout,
		WriteTimeout:   cfg.Network.WriteTimeout,
	}
	if cfg.RateLimit.Enabled {
		opts.PacketsPerSecond = cfg.RateLimit.PacketsPerSecond
	}
	disconnect := handler.OnDisconnect(deps)
	srv, err := gonet.NewServer(cfg.Network.BindAddress, opts, gw.Dispatch, gonet.Hooks{
		OnOpen: func(*gonet.Session) { sink.ConnectionOpened() },
		OnClose: func(s *gonet.Session) {
			disconnect(s)
			sink.ConnectionClosed()
		},
	}, log)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	var wsHTTP *http.Server
	if cfg.WebSocket.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.WebSocket.Path, srv.WebSocketHandler(ctx, cfg.WebSocket.AllowedOrigins))
		wsHTTP = &http.Server{Addr: cfg.WebSocket.BindAddress, Handler: mux}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })
	for _, hs := range []*http.Server{wsHTTP, metricsHTTP} {
		if hs == nil {
			continue
		}
		hs := hs
		g.Go(func() error {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http %s: %w", hs.Addr, err)
			}
			return nil
		})
	}

	printSection("ready")
	printStat("tcp", srv.Addr().String())
	if wsHTTP != nil {
		printStat("websocket", wsHTTP.Addr+cfg.WebSocket.Path)
	}
	if metricsHTTP != nil {
		printStat("metrics", metricsHTTP.Addr+"/metrics")
	}
	fmt.Println()

	// 7. Wait for a signal or a listener failure, then drain.
	<-gctx.Done()
	log.Info("shutting down", zap.NamedError("cause", context.Cause(gctx)))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, hs := range []*http.Server{wsHTTP, metricsHTTP} {
		if hs != nil {
			hs.Shutdown(shutdownCtx)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("sessions did not drain in time", zap.Error(err))
	}

	err = g.Wait()
	log.Info("server stopped")
	return err
}

// newTokenCache connects to Redis when an address is configured and falls
// back to the in-process cache otherwise.
func newTokenCache(ctx context.Context, cfg config.RedisConfig) (auth.TokenCache, func(), error) {
	if cfg.Addr == "" {
		return auth.NewMemoryCache(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return auth.NewRedisCache(client), func() { client.Close() }, nil
}
