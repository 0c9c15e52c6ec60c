package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/upstac/platform/pkg/common/config"
	"github.com/upstac/platform/pkg/common/database"
	"github.com/upstac/platform/pkg/common/kafka"
	"github.com/upstac/platform/pkg/common/logger"
	"github.com/upstac/platform/pkg/dlp"
	"github.com/upstac/platform/pkg/gateway/auth"
	"github.com/upstac/platform/pkg/gateway/middleware"
	"github.com/upstac/platform/pkg/gateway/routes"
	"github.com/upstac/platform/pkg/identity"
	"github.com/upstac/platform/pkg/notification"
	"github.com/upstac/platform/pkg/seed"
	"github.com/upstac/platform/pkg/testrequests"
	"github.com/upstac/platform/pkg/testrequests/consultation"
	"github.com/upstac/platform/pkg/testrequests/lab"
	"gorm.io/gorm"
)

// App holds the wired stores and services shared by the binaries.
type App struct {
	Config *config.Config

	Authz       auth.Authorizer
	Tokens      *auth.JWTManager
	Revocations auth.RevocationStore
	OIDC        *auth.OIDCAuthenticator

	Users        *identity.Service
	Requests     testrequests.Repository
	Query        *testrequests.QueryService
	Intake       *testrequests.Service
	Lab          *lab.Service
	Consultation *consultation.Service
	Inbox        notification.Inbox

	Checks map[string]routes.ReadinessCheck

	db       *gorm.DB
	userRepo *identity.Repository
	gormRepo *testrequests.GormRepository
	closers  []func() error
}

// New wires either the in-memory stack (STORAGE_DRIVER=memory) or
// PostgreSQL, Redis and Kafka.
func New(cfg *config.Config) (*App, error) {
	policy, err := auth.LoadPolicy(cfg.RBACPolicyFile)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTTTL)
	if err != nil {
		return nil, err
	}
	rules, err := dlp.LoadRules(cfg.DLPRulesFile)
	if err != nil {
		return nil, err
	}
	masker, err := dlp.NewDetector(rules)
	if err != nil {
		return nil, fmt.Errorf("compile dlp rules: %w", err)
	}

	a := &App{
		Config: cfg,
		Authz:  auth.NewRoleAuthorizer(policy),
		Tokens: tokens,
		Checks: map[string]routes.ReadinessCheck{},
	}

	oidc, err := auth.NewOIDCAuthenticator(cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCClientSecret, cfg.OIDCRedirectURL)
	if err != nil {
		logger.Log.WithError(err).Info("OIDC not configured, SSO routes disabled")
	} else {
		a.OIDC = oidc
	}

	var (
		users     identity.UserStore
		publisher testrequests.EventPublisher
	)
	if cfg.UsesMemoryStore() {
		users = identity.NewMemoryStore()
		a.Requests = testrequests.NewMemoryRepository()
		a.Revocations = auth.NewMemoryRevocationStore()
		inbox := notification.NewMemoryInbox(cfg.NotificationInboxMax)
		a.Inbox = inbox
		publisher = notification.NewLocalPublisher(notification.NewNotifier(inbox).Handle)
		logger.Log.Warn("Using in-memory storage, data is lost on restart")
	} else {
		db, err := database.GetPostgres()
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, database.ClosePostgres)
		a.userRepo = identity.NewRepository(db)
		a.gormRepo = testrequests.NewGormRepository(db)
		users = a.userRepo
		a.Requests = a.gormRepo

		rdb := database.GetRedis(cfg)
		a.closers = append(a.closers, database.CloseRedis)
		a.Revocations = auth.NewRedisRevocationStore(rdb)
		a.Inbox = notification.NewRedisInbox(rdb, cfg.NotificationInboxMax)

		producer := kafka.NewProducer(cfg, cfg.KafkaTopic)
		a.closers = append(a.closers, producer.Close)
		publisher = producer

		a.Checks["postgres"] = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
		a.Checks["redis"] = database.PingRedis
	}

	flow := testrequests.NewFlowLog(publisher, masker)
	a.Users = identity.NewService(users, a.Authz)
	a.Query = testrequests.NewQueryService(a.Requests)
	a.Intake = testrequests.NewService(a.Requests, flow, a.Authz)
	a.Lab = lab.NewService(a.Requests, flow, a.Authz)
	a.Consultation = consultation.NewService(a.Requests, flow, a.Authz)
	return a, nil
}

// Migrate creates or updates the relational schema. It is a no-op for the memory stack.
func (a *App) Migrate() error {
	if a.db == nil {
		return nil
	}
	if err := a.userRepo.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}
	if err := a.gormRepo.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate test requests: %w", err)
	}
	logger.Log.Info("Database schema migrated")
	return nil
}

func (a *App) Seeder() *seed.Seeder {
	return seed.NewSeeder(a.Users, a.Intake, a.Lab, a.Consultation)
}

// Router builds the public HTTP surface. Role gates sit on subrouters; the
// services re-check the same policy.
func (a *App) Router() *mux.Router {
	cfg := a.Config
	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	routes.NewOpsHandler(a.Checks).Register(router)
	routes.NewAuthHandler(a.Users, a.Tokens, a.Revocations, a.OIDC).Register(router.PathPrefix("/auth").Subrouter())

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.Authenticate(a.Tokens, a.Revocations))

	gated := func(action auth.Action) *mux.Router {
		sub := api.NewRoute().Subrouter()
		sub.Use(middleware.RequireAction(a.Authz, action))
		return sub
	}

	testrequests.NewHandler(a.Intake).Register(api.NewRoute().Subrouter())
	lab.NewHandler(a.Lab).Register(gated(auth.ActionViewLabQueue))
	consultation.NewHandler(a.Consultation).Register(gated(auth.ActionViewConsultations))
	notification.NewHandler(a.Inbox).Register(gated(auth.ActionReadNotifications))
	routes.NewMetricsHandler(a.Query).Register(gated(auth.ActionViewOverview))

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testrequests.WriteJSON(w, http.StatusNotFound, map[string]interface{}{
			"status":  http.StatusNotFound,
			"error":   "NotFound",
			"message": "No route for " + r.URL.Path,
		})
	})
	return router
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Log.WithError(err).Warn("close failed")
		}
	}
}
