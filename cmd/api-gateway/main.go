package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/edubatch/admission-api/api/swagger"
	"github.com/edubatch/admission-api/internal/handler"
	"github.com/edubatch/admission-api/internal/middleware"
	"github.com/edubatch/admission-api/internal/models"
	"github.com/edubatch/admission-api/internal/repository"
	"github.com/edubatch/admission-api/internal/service"
	"github.com/edubatch/admission-api/pkg/cache"
	"github.com/edubatch/admission-api/pkg/config"
	"github.com/edubatch/admission-api/pkg/database"
	"github.com/edubatch/admission-api/pkg/logger"
	corsmiddleware "github.com/edubatch/admission-api/pkg/middleware/cors"
	reqidmiddleware "github.com/edubatch/admission-api/pkg/middleware/requestid"
)

// @title Batch Admission API
// @version 1.0.0
// @description Capacity-bounded course batch registration with discounts and coupons
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, catalog cache disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	studentRepo := repository.NewStudentRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	discountRepo := repository.NewDiscountRepository(db)
	couponRepo := repository.NewCouponRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	pipeline := service.NewDiscountPipeline(registrationRepo, discountRepo, cfg.Admission.ComboIncludeConfirmed, logr)
	registrationSvc := service.NewRegistrationService(
		studentRepo, batchRepo, registrationRepo, couponRepo, discountRepo,
		pipeline, db, cacheRepo, metricsSvc, validate, logr,
	)
	catalogSvc := service.NewCatalogService(batchRepo, registrationRepo, studentRepo, cacheRepo, cfg.Admission.CatalogCacheTTL, logr)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "admission-api",
	})

	registrationHandler := handler.NewRegistrationHandler(registrationSvc)
	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	authHandler := handler.NewAuthHandler(authSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
			auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
		}

		api.GET("/batches", catalogHandler.ListBatches)
		api.GET("/registrations/:id", catalogHandler.GetRegistration)
		api.GET("/students/registrations", catalogHandler.ListStudentRegistrations)

		api.POST("/registrations", registrationHandler.Create)

		guarded := api.Group("", middleware.JWT(authSvc), middleware.RequireRole(models.RoleAdmin, models.RoleOperator))
		{
			guarded.POST("/registrations/:id/confirm", registrationHandler.ConfirmPayment)
			guarded.POST("/registrations/:id/cancel", registrationHandler.Cancel)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
