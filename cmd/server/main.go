package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Skufu/veincheck/internal/screening"
	"github.com/Skufu/veincheck/internal/server"
	"github.com/Skufu/veincheck/internal/session"
	"github.com/Skufu/veincheck/internal/storage"
	"github.com/Skufu/veincheck/internal/triage"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("config error")
	}
	gin.SetMode(cfg.GinMode)
	logger := newLogger(cfg)

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.WithError(err).WithField("backend", cfg.Storage.Backend).Fatal("storage init failed")
	}
	defer store.Close()

	analyzer, err := buildAnalyzer(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("analyzer init failed")
	}
	authn, err := buildAuth(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("admin auth init failed")
	}
	rule, err := triage.RuleByName(cfg.SeverityRule)
	if err != nil {
		logger.WithError(err).Fatal("severity rule init failed")
	}

	svc := screening.New(
		session.NewManager(cfg.SessionCapacity, cfg.SessionTTL),
		triage.NewEvaluator(rule, nil),
		analyzer,
		store,
		logger,
		screening.Config{MaxUploadBytes: cfg.MaxUploadBytes, AnalysisTimeout: cfg.AnalysisTimeout},
	)

	staticRoot := server.DetectStaticRoot()
	router := server.NewRouter(server.Options{
		Service:        svc,
		Auth:           authn,
		Logger:         logger,
		StaticRoot:     staticRoot,
		MaxUploadBytes: cfg.MaxUploadBytes,
		AllowOrigins:   cfg.AllowOrigins,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.AnalysisTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	logger.WithFields(logrus.Fields{
		"port":          cfg.Port,
		"storage":       cfg.Storage.Backend,
		"analyzer":      cfg.Analyzer,
		"severity_rule": rule.Name(),
		"static_root":   staticRoot,
		"admin":         authn != nil,
	}).Info("server listening")
	waitForShutdown(httpServer, logger)
}

func waitForShutdown(server *http.Server, logger *logrus.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}
