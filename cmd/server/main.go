package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/certrecon/internal/backup"
	"github.com/rpattn/certrecon/internal/config"
	"github.com/rpattn/certrecon/internal/db"
	"github.com/rpattn/certrecon/internal/diagnostics"
	"github.com/rpattn/certrecon/internal/export"
	"github.com/rpattn/certrecon/internal/ingestion"
	"github.com/rpattn/certrecon/internal/matching"
	"github.com/rpattn/certrecon/internal/middleware"
	"github.com/rpattn/certrecon/internal/reconcile"
	"github.com/rpattn/certrecon/internal/repository"
	"github.com/rpattn/certrecon/internal/repository/memstore"
	"github.com/rpattn/certrecon/internal/undo"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

// stores groups the repositories behind the selected backend.
type stores struct {
	orgs     repository.OrganizationRepository
	products repository.ProductRepository
	batches  repository.BatchRepository
	logs     repository.ProcessingLogRepository
	audit    repository.AuditRepository
	backups  repository.BackupRepository
	undo     repository.UndoRepository
	close    func()
}

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bootLog := logrus.New()
	cfg, err := config.Load(*configPath, bootLog)
	if err != nil {
		bootLog.WithError(err).Fatal("Failed to load configuration")
	}
	log := cfg.NewLogger()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open store")
	}
	defer st.close()

	backups := backup.NewService(st.orgs, st.products, st.backups, st.audit, log.WithField("component", "backup"))
	undoManager := undo.NewManager(st.undo, st.orgs, st.products, st.audit, log.WithField("component", "undo"))
	mutator := reconcile.NewMutator(st.orgs, st.products, st.audit, log.WithField("component", "mutator"))
	processor := reconcile.NewProcessor(
		backups,
		mutator,
		st.logs,
		reconcile.SessionsFunc(func(sessionID string) reconcile.UndoSession { return undoManager.Open(sessionID) }),
		cfg.Workers,
		log.WithField("component", "processor"),
	)
	ingest := ingestion.NewService(
		st.orgs, st.products, st.batches, st.logs, processor,
		ingestion.Options{Workers: cfg.Workers, CreateBackup: cfg.CreateBackup},
		log.WithField("component", "ingestion"),
	)
	reporter := diagnostics.NewReporter(st.batches, st.logs, log.WithField("component", "diagnostics"))
	exporter := export.NewService(st.batches, st.logs, log.WithField("component", "export"))
	matcher := matching.NewService(st.orgs, st.audit, log.WithField("component", "matching"))

	api := &api{backups: backups, undo: undoManager, reporter: reporter, log: log}

	mux := http.NewServeMux()
	mux.Handle("POST /uploads", ingestion.NewHTTPHandler(ingest, cfg.MaxUploadBytes))
	mux.Handle("POST /organizations/match", ingestion.NewMatchHandler(matcher, cfg.MaxUploadBytes))
	mux.Handle("GET /batches/{id}/log.csv", export.NewHTTPHandler(exporter))
	api.register(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	mux.Handle("GET /metrics", promhttp.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	handler := corsHandler.Handler(
		middleware.LoggingMiddleware(log)(
			middleware.IdentityMiddleware(
				middleware.DataLoaderMiddleware(st.orgs, st.products)(mux),
			),
		),
	)

	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.ServerAddr, "store": cfg.Store}).Info("Starting reconciliation server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("Server forced to shutdown")
	}

	log.Info("Server exited")
}

func openStores(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (stores, error) {
	if cfg.Store == config.StoreMemory {
		mem := memstore.New()
		return stores{
			orgs:     mem.Organizations,
			products: mem.Products,
			batches:  mem.Batches,
			logs:     mem.ProcessingLogs,
			audit:    mem.Audit,
			backups:  mem.Backups,
			undo:     mem.Undo,
			close:    func() {},
		}, nil
	}

	conn, err := db.NewConnection(ctx, cfg.Database, log)
	if err != nil {
		return stores{}, err
	}
	if err := db.RunMigrations(cfg.Database, cfg.MigrationsPath, log); err != nil {
		conn.Close()
		return stores{}, err
	}
	return stores{
		orgs:     repository.NewOrganizationRepository(conn.Pool),
		products: repository.NewProductRepository(conn.Pool),
		batches:  repository.NewBatchRepository(conn.Pool),
		logs:     repository.NewProcessingLogRepository(conn.Pool),
		audit:    repository.NewAuditRepository(conn.Pool),
		backups:  repository.NewBackupRepository(conn.Pool, conn),
		undo:     repository.NewUndoRepository(conn.Pool),
		close:    conn.Close,
	}, nil
}
