package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/0gfoundation/veristas-relay/internal/api"
	"github.com/0gfoundation/veristas-relay/internal/app"
	"github.com/0gfoundation/veristas-relay/internal/auth"
	"github.com/0gfoundation/veristas-relay/internal/chain"
	"github.com/0gfoundation/veristas-relay/internal/config"
	"github.com/0gfoundation/veristas-relay/internal/entrypoint"
	"github.com/0gfoundation/veristas-relay/internal/events"
	"github.com/0gfoundation/veristas-relay/internal/metrics"
	"github.com/0gfoundation/veristas-relay/internal/operator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Operating account + ledger ────────────────────────────────────────────
	acct, err := operator.FromHex(cfg.Chain.PrivateKey)
	if err != nil {
		log.Fatal("operator key invalid", zap.Error(err))
	}
	ledger, err := chain.Dial(ctx, cfg.Chain, acct, log.Named("chain"))
	if err != nil {
		log.Fatal("chain client init failed", zap.Error(err))
	}
	if bal, err := ledger.Balance(ctx); err != nil {
		log.Warn("balance read failed", zap.Error(err))
	} else {
		log.Info("operating account",
			zap.String("address", acct.Address.Hex()),
			zap.String("chain_id", ledger.ChainID().String()),
			zap.String("balance", decimal.NewFromBigInt(bal, 0).Shift(-18).String()+" "+nativeSymbol(ledger.ChainID().Int64())),
		)
		if bal.Sign() == 0 {
			log.Warn("operating account has no balance; commitments will fail", zap.String("address", acct.Address.Hex()))
		}
	}

	// ── Redis (optional: duplicate-op guard + signed-request nonces) ──────────
	var (
		guard  entrypoint.Guard
		nonces auth.NonceStore = auth.NewMemoryNonces()
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis ping failed", zap.Error(err))
		}
		defer rdb.Close() //nolint:errcheck
		guard = entrypoint.NewRedisGuard(rdb, entrypoint.DefaultClaimTTL)
		nonces = auth.NewRedisNonces(rdb)
		log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	} else {
		log.Info("redis not configured; using in-process guards")
	}

	// ── Event publisher ───────────────────────────────────────────────────────
	var pub events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.Kafka, log.Named("events"))
		log.Info("kafka publisher enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer pub.Close() //nolint:errcheck

	// ── Metrics ───────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ── Pipeline ──────────────────────────────────────────────────────────────
	pipeline, err := app.New(cfg, ledger, app.Extras{Guard: guard, Publisher: pub, Metrics: m}, log)
	if err != nil {
		log.Fatal("pipeline init failed", zap.Error(err))
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	opts := api.Options{
		Rewards:    pipeline.Service,
		Preparer:   pipeline.Assembler,
		Nonces:     pipeline.Resolver,
		EntryPoint: pipeline.EntryPoint,
		ChainID:    pipeline.ChainID,
	}
	if cfg.Server.RequireSignature {
		opts.Auth = auth.Middleware(nonces, "verify-and-reward")
		log.Info("signed review submissions required")
	}
	apiGroup := r.Group("/api", api.RequestID(log.Named("http")))
	api.NewHandler(opts, log.Named("api")).Register(apiGroup)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type", api.HeaderRequestID,
			"X-Wallet-Address", "X-Signed-Message", "X-Wallet-Signature",
		},
		ExposedHeaders: []string{api.HeaderRequestID},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// nativeSymbol names the gas token for log output.
func nativeSymbol(chainID int64) string {
	switch chainID {
	case 14:
		return "FLR"
	case 114:
		return "C2FLR"
	case 1337, 31337:
		return "ETH"
	default:
		return "native"
	}
}
