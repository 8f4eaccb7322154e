// Package main заполняет базу демонстрационными турами и печатает токен администратора.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/tourbooking-system/internal/config"
	"github.com/mmeshcher/tourbooking-system/internal/middleware"
	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/payment"
	"github.com/mmeshcher/tourbooking-system/internal/repository"
	"github.com/mmeshcher/tourbooking-system/internal/service"
)

func ptr[T any](v T) *T { return &v }

func demoTours(now time.Time) []*model.Tour {
	day := func(n int) *time.Time { return ptr(now.AddDate(0, 0, n).Truncate(24 * time.Hour)) }

	return []*model.Tour{
		{
			Title:       "Ha Long Bay 2D1N",
			Destination: "Quang Ninh",
			StartDate:   day(14),
			EndDate:     day(15),
			Quantity:    ptr(20),
			MinGuests:   8,
			PriceAdult:  2_500_000,
		},
		{
			Title:       "Sapa trekking",
			Destination: "Lao Cai",
			StartDate:   day(21),
			EndDate:     day(24),
			Quantity:    ptr(12),
			MinGuests:   4,
			PriceAdult:  4_200_000,
			PriceChild:  ptr[int64](3_000_000),
		},
		{
			Title:       "Mekong Delta day trip",
			Destination: "Can Tho",
			StartDate:   day(7),
			EndDate:     day(7),
			PriceAdult:  900_000,
		},
	}
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}
	if cfg.DatabaseURI == "" {
		sugar.Fatal("DATABASE_URI is required for seeding")
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	svc := service.NewService(repo, payment.NewRegistry(), nil, logger, service.Options{DepositRate: cfg.DepositRate})
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, t := range demoTours(time.Now().UTC()) {
		if err := svc.CreateTour(ctx, t); err != nil {
			sugar.Fatalw("create tour", "title", t.Title, "error", err.Error())
		}
		sugar.Infow("tour created", "id", t.ID, "title", t.Title)
	}

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is empty, admin token will not be accepted by the server")
		return
	}

	token, err := middleware.NewAuthMiddleware(cfg.JWTSecret).GenerateToken(uuid.New(), middleware.RoleAdmin)
	if err != nil {
		sugar.Fatalw("generate admin token", "error", err.Error())
	}
	fmt.Fprintln(os.Stdout, token)
}
