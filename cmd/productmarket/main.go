package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/iurnickita/productmarket/internal/auth"
	"github.com/iurnickita/productmarket/internal/config"
	"github.com/iurnickita/productmarket/internal/handler"
	"github.com/iurnickita/productmarket/internal/logger"
	"github.com/iurnickita/productmarket/internal/service"
	"github.com/iurnickita/productmarket/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	service, err := service.NewService(cfg.Service, store, zaplog)
	if err != nil {
		return err
	}
	auth := auth.NewAuth(cfg.Auth, store, service, zaplog)

	// Учетная запись оператора площадки
	if cfg.Service.OperatorPassword != "" {
		operator, err := auth.EnsureUser(ctx, cfg.Service.OperatorLogin, cfg.Service.OperatorPassword)
		if err != nil {
			return err
		}
		err = service.InitOperator(ctx, operator)
		if err != nil {
			return err
		}
		zaplog.Info("operator is ready", zap.String("login", cfg.Service.OperatorLogin))
	} else {
		zaplog.Warn("operator password is not set, admin operations are unavailable")
	}

	return handler.Serve(ctx, cfg.Handler, auth, service, zaplog)
}
