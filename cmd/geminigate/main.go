// Package main is the entry point for the geminigate proxy.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/howard-nolan/geminigate/internal/auth"
	"github.com/howard-nolan/geminigate/internal/config"
	"github.com/howard-nolan/geminigate/internal/proxy"
	"github.com/howard-nolan/geminigate/internal/server"
	"github.com/howard-nolan/geminigate/internal/signature"
	"github.com/howard-nolan/geminigate/internal/translate"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	logger := logrus.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("loading config")
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.WithError(err).Fatal("parsing log level")
	}
	logger.SetLevel(level)
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	log := logrus.NewEntry(logger)

	// Ctrl-C / SIGTERM cancels this context; the refresher and the HTTP
	// server both shut down from it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signatures := signature.NewCache(cfg.Signatures.TTL)

	oauth := auth.NewGoogleOAuth(cfg.Auth.ClientID, cfg.Auth.ClientSecret, cfg.Auth.TokenURL, nil)
	resolver := auth.NewCodeAssistResolver(cfg.Auth.ProjectEndpoint, nil)

	tokens := auth.NewManager(oauth, resolver, log)
	count, err := tokens.Load(cfg.Auth.AccountsDir)
	if err != nil {
		log.WithError(err).Fatal("loading accounts")
	}
	if count == 0 {
		log.WithField("dir", cfg.Auth.AccountsDir).Fatal("no usable accounts found, refusing to serve")
	}
	log.WithField("accounts", count).Info("accounts loaded")

	refresher := auth.NewRefresher(tokens, oauth, signatures, cfg.Auth.RefreshInterval, cfg.Auth.RefreshAhead, log)
	go refresher.Run(ctx)

	upstream := proxy.NewUpstreamClient(cfg.Upstream.BaseURL, nil, log)
	mapper := translate.NewModelMapper(cfg.Models.Map)
	pipeline := proxy.NewPipeline(tokens, upstream, mapper, signatures, log)

	srv := server.New(pipeline, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		if err := httpServer.Shutdown(context.Background()); err != nil {
			log.WithError(err).Error("shutdown error")
		}
	}()

	log.WithField("port", cfg.Server.Port).Info("geminigate listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server error")
	}
}
