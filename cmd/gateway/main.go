// Command gateway runs the AVL telematics gateway: it accepts device TCP
// connections, authenticates and decodes them, tracks per-device
// movement, and serves a read-only monitor HTTP surface.
//
// Grounded on cmd/tcp-server/main.go's overall shape (flag/env driven
// startup, signal-driven graceful shutdown, structured startup logging)
// generalized to supervise the device listener and the monitor HTTP
// server together with golang.org/x/sync/errgroup, the way a gobfd-style
// command supervises its gRPC and metrics servers side by side.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/telematics/avl-gateway/internal/avl"
	"github.com/telematics/avl-gateway/internal/config"
	"github.com/telematics/avl-gateway/internal/listener"
	"github.com/telematics/avl-gateway/internal/monitor"
	"github.com/telematics/avl-gateway/internal/movement"
	"github.com/telematics/avl-gateway/internal/registry"
	"github.com/telematics/avl-gateway/internal/repository"
	"github.com/telematics/avl-gateway/internal/repository/memrepo"
	"github.com/telematics/avl-gateway/internal/repository/redisrepo"
	"github.com/telematics/avl-gateway/internal/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		return 1
	}
	if cfg.DebugLog {
		log.SetLevel(logrus.DebugLevel)
	}

	repo, closeRepo, err := buildRepository(cfg.StoreURI, log)
	if err != nil {
		log.WithError(err).Error("failed to initialize store")
		return 1
	}
	defer closeRepo()

	reg := registry.New(log)

	sessionCfg := session.Config{
		IdleTimeout:     cfg.SocketTimeout,
		RateLimitPerMin: cfg.RateLimitFramesPerMin,
		RateLimitWindow: sessionRateWindow,
		AvlOptions:      avl.DefaultOptions(),
		MovementOptions: movement.Options{
			WarmupMs:          cfg.WarmupMs,
			IdleMs:            cfg.IdleMs,
			SpeedThresholdKmh: cfg.SpeedThresholdKmh,
		},
		StoreRetries: 3,
		StoreBackoff: sessionStoreBackoff,
		StoreTimeout: sessionStoreTimeout,
	}

	lst := listener.New(cfg.DevicePort, cfg.MaxConcurrentSessions, sessionCfg, reg, repo, log)
	mon := monitor.New(cfg.MonitorPort, cfg.DevicePort, reg, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return lst.Run(gCtx) })
	g.Go(func() error { return mon.Run(gCtx) })

	log.WithFields(logrus.Fields{
		"devicePort":  cfg.DevicePort,
		"monitorPort": cfg.MonitorPort,
		"storeUri":    cfg.StoreURI,
	}).Info("avl gateway starting")

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("gateway exited with error")
		return 1
	}

	log.Info("avl gateway stopped cleanly")
	return 0
}

const (
	sessionRateWindow   = time.Minute
	sessionStoreBackoff = time.Second
	sessionStoreTimeout = 5 * time.Second
)

// buildRepository selects a Repository Port adapter from the STORE_URI
// scheme: "redis://..." for the Redis-backed adapter, anything else
// (including "memory://" and the empty string) for the in-memory one.
func buildRepository(storeURI string, log *logrus.Logger) (repository.Port, func(), error) {
	scheme, rest := splitScheme(storeURI)

	switch scheme {
	case "redis":
		pool := &redis.Pool{
			Dial: func() (redis.Conn, error) {
				return redis.Dial("tcp", rest)
			},
			MaxIdle:     8,
			IdleTimeout: 0,
		}
		store := redisrepo.New(pool, log)
		return store, func() { pool.Close() }, nil
	default:
		store := memrepo.New()
		return store, func() {}, nil
	}
}

func splitScheme(uri string) (scheme, rest string) {
	for i := 0; i+2 < len(uri); i++ {
		if uri[i] == ':' && uri[i+1] == '/' && uri[i+2] == '/' {
			return uri[:i], uri[i+3:]
		}
	}
	return "", uri
}
