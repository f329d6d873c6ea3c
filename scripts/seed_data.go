//go:build ignore

package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/aditya/towbid/internal/auth"
	"github.com/aditya/towbid/internal/cache"
	"github.com/aditya/towbid/internal/config"
	"github.com/aditya/towbid/internal/database"
	"github.com/aditya/towbid/internal/logging"
	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/internal/notify"
	"github.com/aditya/towbid/internal/payment"
	"github.com/aditya/towbid/internal/repository"
	"github.com/aditya/towbid/internal/service"
	"github.com/shopspring/decimal"
)

// Sao Paulo centre
const (
	baseLat = -23.5505
	baseLng = -46.6333
)

var (
	firstNames = []string{"Ana", "Bruno", "Carla", "Diego", "Elisa", "Felipe", "Gabriela", "Henrique", "Isabela", "Joao",
		"Larissa", "Marcos", "Natalia", "Otavio", "Paula", "Rafael", "Sofia", "Thiago", "Vanessa", "Wagner"}
	lastNames   = []string{"Silva", "Santos", "Oliveira", "Souza", "Lima", "Pereira", "Costa", "Almeida", "Ribeiro", "Carvalho"}
	specialties = []string{"tow", "winch", "jump_start", "tire_change", "fuel_delivery", "lockout"}
)

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func name() string {
	return firstNames[rand.Intn(len(firstNames))] + " " + lastNames[rand.Intn(len(lastNames))]
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config", err)
	}
	slog.SetDefault(logging.NewLogger(cfg.LogLevel))
	ctx := context.Background()

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, cfg.DBMaxConnections, cfg.DBMaxIdleConnections)
	if err != nil {
		fatal("failed to connect to postgres", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db.DB); err != nil {
		fatal("migrations failed", err)
	}

	redis, err := database.NewRedis(ctx, cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		fatal("failed to connect to redis", err)
	}
	defer redis.Close()

	policy := service.PolicyFromConfig(cfg)
	tx := repository.NewTransactor(db.DB)
	userRepo := repository.NewUserRepository(db.DB)
	driverRepo := repository.NewDriverRepository(db.DB)
	creditRepo := repository.NewCreditRepository(db.DB)

	notifications := service.NewNotificationService(repository.NewNotificationRepository(db.DB), tx, notify.Noop{}, policy)
	credits := service.NewCreditService(tx, creditRepo, repository.NewPixRequestRepository(db.DB), driverRepo, payment.NewManualProvider(), notifications, policy)
	users := service.NewUserService(userRepo)
	drivers := service.NewDriverService(tx, driverRepo, userRepo, creditRepo, cache.NewDriverLocationCache(redis.Client))
	identity := auth.NewJWTProvider(cfg.JWTSecret, cfg.JWTIssuer)

	newUser := func(role string) *models.User {
		u, err := users.CreateUser(ctx, &models.CreateUserRequest{
			Phone: fmt.Sprintf("5511%09d", rand.Intn(1_000_000_000)),
			Name:  name(),
			Role:  role,
		})
		if err != nil {
			fatal("failed to create user", err)
		}
		return u
	}

	admin := newUser(models.RoleAdmin)

	var clients []*models.User
	for i := 0; i < 20; i++ {
		clients = append(clients, newUser(models.RoleClient))
	}

	var driverIDs []string
	for i := 0; i < 40; i++ {
		u := newUser(models.RoleDriver)
		spec := []string{"tow", specialties[rand.Intn(len(specialties))]}
		if _, err := drivers.CreateDriver(ctx, &models.CreateDriverRequest{
			UserID:        u.ID,
			VehicleNumber: fmt.Sprintf("%c%c%c%d%c%02d", 'A'+rand.Intn(26), 'A'+rand.Intn(26), 'A'+rand.Intn(26), rand.Intn(10), 'A'+rand.Intn(26), rand.Intn(100)),
			Specialties:   spec,
		}); err != nil {
			fatal("failed to create driver", err)
		}
		driverIDs = append(driverIDs, u.ID)

		if rand.Float64() < 0.5 {
			continue
		}
		// Roughly 10 km across the centre.
		loc := &models.UpdateDriverLocationRequest{
			Lat: baseLat + (rand.Float64()-0.5)*0.1,
			Lng: baseLng + (rand.Float64()-0.5)*0.1,
		}
		if err := drivers.UpdateLocation(ctx, u.ID, loc); err != nil {
			fatal("failed to set location", err)
		}
		if _, err := drivers.SetStatus(ctx, u.ID, models.DriverStatusOnline); err != nil {
			fatal("failed to set status", err)
		}
		grant := decimal.NewFromInt(int64(25 * (1 + rand.Intn(8))))
		if _, err := credits.AddCredits(ctx, u.ID, grant, models.CreditSourceAdminGrant, "seed grant", models.JSONMap{"granted_by": admin.ID}); err != nil {
			fatal("failed to grant credits", err)
		}
	}

	token := func(id, role string) string {
		t, err := identity.Issue(id, role, 24*time.Hour)
		if err != nil {
			fatal("failed to issue token", err)
		}
		return t
	}

	fmt.Println("=== Seed data ===")
	fmt.Printf("clients: %d, drivers: %d\n\n", len(clients), len(driverIDs))
	fmt.Printf("admin  %s\n  %s\n", admin.ID, token(admin.ID, models.RoleAdmin))
	fmt.Printf("client %s\n  %s\n", clients[0].ID, token(clients[0].ID, models.RoleClient))
	fmt.Printf("driver %s\n  %s\n", driverIDs[0], token(driverIDs[0], models.RoleDriver))
}
