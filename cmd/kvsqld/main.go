// Command kvsqld runs the engine's admin HTTP surface and holds a
// session.Manager ready to serve statements from an embedding wire
// front. Like the teacher's cmd/main.go, it takes a handful of flags
// and delegates everything else to config.Load rather than reaching for
// a CLI framework.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kvsql/kvsql/internal/admin"
	"github.com/kvsql/kvsql/internal/catalog"
	"github.com/kvsql/kvsql/internal/config"
	"github.com/kvsql/kvsql/internal/kv"
	"github.com/kvsql/kvsql/internal/logging"
	"github.com/kvsql/kvsql/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	listenAddr := flag.String("listen", "", "override server.listen_addr")
	adminAddr := flag.String("admin-listen", "", "override admin.listen_addr")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *adminAddr != "" {
		cfg.Admin.ListenAddr = *adminAddr
	}

	log, err := logging.Init(cfg.Logging.Dev, cfg.Logging.Level)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	backend, closeBackend, err := openBackend(cfg.Storage)
	if err != nil {
		log.Fatal("open storage backend", zap.Error(err))
	}
	defer closeBackend()

	cat := catalog.New(backend)
	if err := bootstrapCatalog(cat, backend); err != nil {
		log.Fatal("bootstrap catalog", zap.Error(err))
	}

	sessions := session.NewManager(backend, cat)

	log.Info("kvsqld ready",
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.String("storage_kind", cfg.Storage.Kind),
	)

	var httpServer *http.Server
	if cfg.Admin.Enabled {
		adminSrv := admin.NewServer(sessions, cat, log)
		httpServer = &http.Server{Addr: cfg.Admin.ListenAddr, Handler: adminSrv.Router()}
		go func() {
			log.Info("admin surface listening", zap.String("addr", cfg.Admin.ListenAddr))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal("admin server error", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Warn("admin server shutdown error", zap.Error(err))
		}
	}
}

func openBackend(sc config.StorageConfig) (kv.Backend, func(), error) {
	switch sc.Kind {
	case "bolt":
		b, err := kv.OpenBolt(sc.Path)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { b.Close() }, nil
	default:
		return kv.NewMemBackend(), func() {}, nil
	}
}

// bootstrapCatalog forces the cache's first Refresh so search_path
// resolution and relation lookups work before any DDL statement runs.
func bootstrapCatalog(cat *catalog.Cache, backend kv.Backend) error {
	ctx := context.Background()
	txn, err := backend.Begin(ctx, kv.ReadCommitted)
	if err != nil {
		return err
	}
	if err := cat.Refresh(ctx, txn); err != nil {
		txn.Rollback(ctx)
		return err
	}
	return txn.Commit(ctx)
}
