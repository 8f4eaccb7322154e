// Package main запускает HTTP-сервер сервиса бронирования туров.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/tourbooking-system/internal/config"
	"github.com/mmeshcher/tourbooking-system/internal/handler"
	"github.com/mmeshcher/tourbooking-system/internal/mailer"
	"github.com/mmeshcher/tourbooking-system/internal/middleware"
	"github.com/mmeshcher/tourbooking-system/internal/notify"
	"github.com/mmeshcher/tourbooking-system/internal/payment"
	"github.com/mmeshcher/tourbooking-system/internal/repository"
	"github.com/mmeshcher/tourbooking-system/internal/service"
	"github.com/mmeshcher/tourbooking-system/internal/telemetry"
)

const serviceName = "tourbooking"

type storage interface {
	service.Repository
	notify.TourDirectory
}

func newLogger(level string) *zap.Logger {
	if level == "debug" {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}

func openStorage(cfg *config.Config, sugar *zap.SugaredLogger) (storage, error) {
	if cfg.DatabaseURI == "" {
		sugar.Warn("DATABASE_URI is empty, using in-memory storage")
		return repository.NewMemoryRepository(), nil
	}
	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func newGateways(cfg *config.Config, logger *zap.Logger) payment.Registry {
	var gateways []payment.Gateway
	if cfg.VNPay.Enabled() {
		gateways = append(gateways, payment.NewVNPay(payment.VNPayOptions{
			TmnCode:    cfg.VNPay.TmnCode,
			HashSecret: cfg.VNPay.HashSecret,
			PayURL:     cfg.VNPay.PayURL,
			ReturnURL:  cfg.VNPay.ReturnURL,
		}, logger))
	} else {
		logger.Warn("vnpay credentials are not set, gateway disabled")
	}
	if cfg.MoMo.Enabled() {
		gateways = append(gateways, payment.NewMoMo(payment.MoMoOptions{
			PartnerCode: cfg.MoMo.PartnerCode,
			AccessKey:   cfg.MoMo.AccessKey,
			SecretKey:   cfg.MoMo.SecretKey,
			Endpoint:    cfg.MoMo.API,
			RedirectURL: cfg.MoMo.RedirectURL,
			IPNURL:      cfg.MoMo.IPNURL,
		}, logger))
	} else {
		logger.Warn("momo credentials are not set, gateway disabled")
	}
	return payment.NewRegistry(gateways...)
}

func newMailer(cfg config.MailConfig, logger *zap.Logger) notify.Mailer {
	if cfg.SMTPHost == "" {
		return mailer.NewLogMailer(logger)
	}
	return mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.From)
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		sugar.Fatalw("telemetry initialization error", "error", err.Error())
	}

	repo, err := openStorage(cfg, sugar)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	dispatcher := notify.NewDispatcher(newMailer(cfg.Mail, logger), repo, logger, notify.Options{
		QueueSize:  cfg.Mail.QueueSize,
		RatePerSec: cfg.Mail.RatePerSec,
	})

	svc := service.NewService(repo, newGateways(cfg, logger), dispatcher, logger, service.Options{
		DepositRate: cfg.DepositRate,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, handler.Options{
		FrontendURL:        cfg.FrontendURL,
		CallbackRatePerSec: cfg.CallbackRatePerSec,
		CallbackBurst:      cfg.CallbackBurst,
	})

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Доставка уведомлений; после отмены контекста очередь дочитывается
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting tourbooking server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			sugar.Warnw("tracing shutdown error", "error", err.Error())
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
