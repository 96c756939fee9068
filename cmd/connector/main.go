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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ilp-connector/pkg/api"
	"ilp-connector/pkg/app"
	"ilp-connector/pkg/config"
	"ilp-connector/pkg/db"
	"ilp-connector/pkg/endpoint"
	"ilp-connector/pkg/logging"
	"ilp-connector/pkg/store"
	"ilp-connector/pkg/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if cfg.ShowVersion {
		fmt.Printf("ilp-connector version=%s\n", version.Build)
		return
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("connector stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.SeedFile != "" {
		seed, err := config.LoadSeed(cfg.SeedFile)
		if err != nil {
			return err
		}
		wrote, err := seed.Apply(st)
		if err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		log.Info("seed file", zap.String("path", cfg.SeedFile), zap.Bool("applied", wrote))
	}

	deps := app.Deps{Store: st, Log: log}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pctx).Err(); err != nil {
			log.Warn("redis not reachable; redis rate limits will fail until it is", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cancel()
		deps.Redis = rdb
	}

	a := app.New(app.Config{
		ILPAddress:          cfg.ILPAddress,
		Env:                 cfg.Env,
		MinExpirationWindow: cfg.MinExpirationWindow,
		MaxHoldWindow:       cfg.MaxHoldWindow,
		Endpoints: endpoint.ManagerOptions{
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		},
	}, deps)
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	tlsCfg, err := api.ServerTLSConfig(api.TLSFiles{Cert: cfg.TLSCert, Key: cfg.TLSKey, ClientCA: cfg.TLSClientCA})
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}

	admin := http.NewServeMux()
	apiOpts := api.Options{Token: cfg.AdminToken, Registry: a.Stats().Registry(), Log: log.Named("api")}
	api.RegisterRoutes(admin, a, apiOpts)
	api.RegisterSettlementRoutes(admin, a, apiOpts)

	servers := []*http.Server{
		{Addr: cfg.ILPListen, Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second, TLSConfig: tlsCfg},
		{Addr: cfg.AdminListen, Handler: admin, ReadHeaderTimeout: 5 * time.Second, TLSConfig: tlsCfg},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			log.Info("listening", zap.String("addr", srv.Addr), zap.Bool("tls", srv.TLSConfig != nil))
			var err error
			if srv.TLSConfig != nil {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server %s: %w", srv.Addr, err)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn("http shutdown", zap.String("addr", srv.Addr), zap.Error(err))
			}
		}
		a.Shutdown(sctx)
		return nil
	})
	return g.Wait()
}

// openStore builds the configured backend. The returned func releases it.
func openStore(cfg *config.Config, log *zap.Logger) (store.Store, func(), error) {
	noop := func() {}
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemoryStore(), noop, nil
	case config.StoreSQLite:
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StoreMySQL:
		gdb, err := db.Open(db.MySQLConfig{
			DSN:  cfg.MySQLDSN,
			Host: cfg.MySQLHost,
			Port: cfg.MySQLPort,
			User: cfg.MySQLUser,
			Pass: cfg.MySQLPass,
			DB:   cfg.MySQLDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("mysql: %w", err)
		}
		closeDB := noop
		if sqlDB, err := gdb.DB(); err == nil {
			closeDB = func() { _ = sqlDB.Close() }
		}
		return db.NewStore(gdb), closeDB, nil
	case config.StoreConsul:
		s, err := store.NewConsulStore(cfg.ConsulAddr, log)
		if err != nil {
			return nil, nil, fmt.Errorf("consul: %w", err)
		}
		return s, noop, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store type: %s", cfg.Store)
	}
}
