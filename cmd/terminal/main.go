package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/gorm"

	"github.com/Skotchmaster/pos_terminal/internal/config"
	"github.com/Skotchmaster/pos_terminal/internal/connectivity"
	"github.com/Skotchmaster/pos_terminal/internal/events"
	"github.com/Skotchmaster/pos_terminal/internal/httpserver"
	"github.com/Skotchmaster/pos_terminal/internal/metrics"
	"github.com/Skotchmaster/pos_terminal/internal/session"
	"github.com/Skotchmaster/pos_terminal/internal/storage"
	"github.com/Skotchmaster/pos_terminal/pkg/apiclient"
	"github.com/Skotchmaster/pos_terminal/pkg/db"
	"github.com/Skotchmaster/pos_terminal/pkg/logging"
)

type backing struct {
	factory storage.Factory
	ready   func(ctx context.Context) error
	close   func() error
}

func openStorage(ctx context.Context, cfg *config.Config) (*backing, error) {
	if cfg.StorageDriver == config.StorageRedis {
		client, err := storage.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return &backing{
			factory: storage.RedisFactory{Client: client},
			ready:   func(ctx context.Context) error { return client.Ping(ctx).Err() },
			close:   client.Close,
		}, nil
	}

	gdb, err := db.Open(ctx, cfg.StorageDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(gdb); err != nil {
		_ = db.Close(gdb)
		return nil, err
	}
	return &backing{
		factory: storage.GormFactory{DB: gdb},
		ready:   pinger(gdb),
		close:   func() error { return db.Close(gdb) },
	}, nil
}

func pinger(gdb *gorm.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

func openEvents(l *slog.Logger, cfg *config.Config) (events.Publisher, func() error) {
	if len(cfg.KafkaBrokers) == 0 {
		l.Info("kafka brokers not configured, events disabled")
		return events.Nop{}, func() error { return nil }
	}
	pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.EventsTopic, l)
	if err != nil {
		l.Warn("kafka_init_error", "error", err)
		return events.Nop{}, func() error { return nil }
	}
	return pub, pub.Close
}

func main() {
	l := logging.New(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(l)

	cfg, err := config.Load(l)
	if err != nil {
		l.Error("config_error", "error", err)
		os.Exit(1)
	}
	l = logging.New(cfg.LogLevel)
	slog.SetDefault(l)
	ctx := logging.IntoContext(context.Background(), l)

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	store, err := openStorage(initCtx, cfg)
	cancel()
	if err != nil {
		l.Error("storage_init_error", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}

	publisher, closeEvents := openEvents(l, cfg)
	m := metrics.New()

	terminals := session.NewManager(session.Options{
		BaseURL:      cfg.BackendURL,
		HTTPClient:   apiclient.NewHTTPClient(cfg.BackendTimeout),
		Storage:      store.factory,
		Events:       publisher,
		Observer:     m,
		QueueMetrics: m,
		OfflineMode:  cfg.OfflineMode,
		MaxRetries:   cfg.SyncMaxRetries,
	})
	if _, err := terminals.Get(ctx, session.DefaultTerminalID); err != nil {
		l.Error("terminal_open_error", "error", err)
		os.Exit(1)
	}

	monitor := connectivity.New(cfg.BackendURL, apiclient.NewHTTPClient(connectivity.DefaultTimeout), terminals.SetOnline)
	monitor.Interval = cfg.ConnectivityInterval
	monitor.OnChange = m.SetOnline

	runCtx, stopRun := context.WithCancel(ctx)
	go monitor.Run(runCtx)

	e := httpserver.New(&httpserver.Deps{
		Terminals: terminals,
		Metrics:   m,
		Log:       l,
		Ready:     store.ready,
		RateLimit: cfg.RateLimit,
	})

	go func() {
		l.Info("terminal agent listening", "addr", cfg.Addr(), "backend", cfg.BackendURL, "storage", cfg.StorageDriver)
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("http_server_error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	l.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		l.Error("http_shutdown_error", "error", err)
	}
	stopRun()
	terminals.Close()

	if err := closeEvents(); err != nil {
		l.Error("kafka_close_error", "error", err)
	}
	if err := store.close(); err != nil {
		l.Error("storage_close_error", "error", err)
	}
	l.Info("shutdown complete")
}
