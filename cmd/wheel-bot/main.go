package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rylorin/wheel-bot/internal/agent"
	"github.com/rylorin/wheel-bot/internal/config"
	"github.com/rylorin/wheel-bot/internal/engine"
	"github.com/rylorin/wheel-bot/internal/ib"
	"github.com/rylorin/wheel-bot/internal/logger"
	"github.com/rylorin/wheel-bot/internal/mirror"
	"github.com/rylorin/wheel-bot/internal/quotes"
	"github.com/rylorin/wheel-bot/internal/registry"
	"github.com/rylorin/wheel-bot/internal/scanner"
	"github.com/rylorin/wheel-bot/internal/server"
	"github.com/rylorin/wheel-bot/internal/sqlite"
)

const (
	_cfgFilePath = "./configs/wheel-bot.yaml"
	_cfgPathEnv  = "WHEELBOT_CONFIG"
)

func main() {
	zapLogger, loggerSync, err := logger.NewZapLogger(logger.Debug)
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	defer loggerSync()

	if err := godotenv.Load(); err != nil {
		zapLogger.Warnf("can't detect .env file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfgPath := _cfgFilePath
	if p := os.Getenv(_cfgPathEnv); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		zapLogger.Fatalf("%s: can't load cfg from %s", err, cfgPath)
	}
	if envDB := sqlite.NewConfigFromEnv(); envDB.Path != "" {
		cfg.Database = *envDB
	}

	db, err := sqlite.NewDB(&cfg.Database)
	if err != nil {
		zapLogger.Fatalf("%s: can't open db %s", err, cfg.Database.Path)
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Errorf("%s: can't close db", err)
		}
	}()

	// TODO: replace NopSession with the TWS socket session once the wire
	// layer lands; everything downstream only sees ib.Session.
	session := ib.NewNopSession()
	req := ib.NewBreakerRequester(session)

	ids := ib.NewIDAllocator()
	pending := ib.NewPendingBook()
	mir := mirror.NewStore(db, zapLogger)
	reg := registry.NewStore(db, zapLogger)
	qts := quotes.NewStore(db, zapLogger)
	scn := scanner.New(cfg.Scanner, req, ids, pending, mir, zapLogger)
	eng := engine.New(cfg.Strategy, mir, req, ids, zapLogger)
	a := agent.New(cfg, req, ids, pending, reg, mir, qts, scn, eng, zapLogger)

	httpServer := server.NewHTTPServer(ctx, cfg.HTTP.Port, server.NewHandler(a, zapLogger))
	go func() {
		if err := httpServer.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Errorf("%s: http server stopped", err)
			cancel()
		}
	}()
	zapLogger.Infof("listening on :%s", cfg.HTTP.Port)

	if err := a.Run(ctx, session.Events()); err != nil && !errors.Is(err, context.Canceled) {
		zapLogger.Errorf("%s: agent stopped", err)
	}

	if err := session.Close(); err != nil {
		zapLogger.Errorf("%s: can't close session", err)
	}
}
