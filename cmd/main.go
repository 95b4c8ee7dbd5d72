package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cron "github.com/robfig/cron/v3"
	"github.com/rs/cors"

	"github.com/dcurp/api/internal/app"
	"github.com/dcurp/api/internal/config"
	"github.com/dcurp/api/internal/constants"
	"github.com/dcurp/api/internal/controllers"
	"github.com/dcurp/api/internal/middleware"
	"github.com/dcurp/api/internal/models"
	"github.com/dcurp/api/internal/repositories"
	"github.com/dcurp/api/internal/routes"
	"github.com/dcurp/api/internal/services"
	"github.com/dcurp/api/internal/utils"
)

const shutdownTimeout = 15 * time.Second

func main() {
	utils.InitLogger(constants.AppName)
	cfg := config.LoadConfig()

	application, err := app.NewApp(cfg)
	if err != nil {
		utils.Logger.Fatal("Failed to initialize application:", err)
	}
	defer application.Close()

	//----------------------------------------------------------------------
	// Repositories
	//----------------------------------------------------------------------
	userRepo := repositories.NewUserRepository(application.DB)
	tokenRepo := repositories.NewTokenRepository(application.DB)
	rateLimitRepo := application.RateLimitStore

	//----------------------------------------------------------------------
	// Services
	//----------------------------------------------------------------------
	codec := services.NewTokenCodec(cfg.TokenSecret, time.Now)
	tokenService := services.NewTokenService(cfg, codec, tokenRepo, userRepo)
	authService := services.NewAuthService(userRepo, tokenService)
	notificationService := services.NewNotificationService(cfg)
	rateLimiterService := services.NewRateLimiterService(rateLimitRepo)
	rateLimitCleanupService := services.NewRateLimitCleanupService(rateLimitRepo)

	//----------------------------------------------------------------------
	// Controllers
	//----------------------------------------------------------------------
	authController := controllers.NewAuthController(cfg, authService, tokenService, notificationService)
	adminController := controllers.NewAdminAuthController(cfg, authService, tokenService, rateLimiterService)
	healthController := controllers.NewHealthController(application.DB, rateLimitRepo)

	//----------------------------------------------------------------------
	// Router & Endpoints
	//----------------------------------------------------------------------
	router := mux.NewRouter()

	router.HandleFunc(routes.Health, healthController.HealthCheckHandler).Methods("GET")
	router.Handle(routes.Metrics, promhttp.Handler()).Methods("GET")

	// Credential-redeeming endpoints get the tightest budget.
	loginRouter := router.NewRoute().Subrouter()
	loginRouter.Use(middleware.RateLimitMiddleware(rateLimiterService, constants.RateLimitScopeLogin, constants.LoginRateLimit))
	loginRouter.HandleFunc(routes.Login, authController.Login).Methods("POST")
	loginRouter.HandleFunc(routes.RememberMe, authController.RedeemRememberMe).Methods("POST")
	loginRouter.HandleFunc(routes.RememberMe, authController.RevokeRememberMe).Methods("DELETE")

	sessionRouter := router.NewRoute().Subrouter()
	sessionRouter.Use(middleware.RateLimitMiddleware(rateLimiterService, constants.RateLimitScopeSession, constants.SessionRateLimit))
	sessionRouter.HandleFunc(routes.RefreshToken, authController.RefreshToken).Methods("POST")
	sessionRouter.HandleFunc(routes.Logout, authController.Logout).Methods("POST")
	sessionRouter.HandleFunc(routes.SessionVerify, authController.VerifySession).Methods("POST")

	sessionProtected := sessionRouter.NewRoute().Subrouter()
	sessionProtected.Use(middleware.AuthMiddleware(tokenService, models.ScopeUser))
	sessionProtected.HandleFunc(routes.LogoutAll, authController.LogoutAll).Methods("POST")

	sessionOptional := sessionRouter.NewRoute().Subrouter()
	sessionOptional.Use(middleware.OptionalAuthMiddleware(tokenService, models.ScopeUser))
	sessionOptional.HandleFunc(routes.Session, authController.GetSession).Methods("GET")

	adminRouter := router.NewRoute().Subrouter()
	adminRouter.Use(middleware.RateLimitMiddleware(rateLimiterService, constants.RateLimitScopeAdmin, constants.AdminRateLimit))
	adminRouter.HandleFunc(routes.AdminLogin, adminController.LoginAdmin).Methods("POST")
	adminRouter.HandleFunc(routes.AdminRefreshToken, adminController.RefreshTokenAdmin).Methods("POST")
	adminRouter.HandleFunc(routes.AdminLogout, adminController.LogoutAdmin).Methods("POST")

	adminProtected := adminRouter.NewRoute().Subrouter()
	adminProtected.Use(middleware.AuthMiddleware(tokenService, models.ScopeAdmin))
	adminProtected.HandleFunc(routes.AdminBlacklist, adminController.AddToBlacklist).Methods("POST")
	adminProtected.HandleFunc(routes.AdminBlacklistIP, adminController.RemoveFromBlacklist).Methods("DELETE")

	//----------------------------------------------------------------------
	// Hourly rate limit cleanup via cron
	//----------------------------------------------------------------------
	c := cron.New()
	_, schErr := c.AddFunc("0 * * * *", func() {
		if e := rateLimitCleanupService.CleanupHourly(context.Background()); e != nil {
			utils.Logger.WithError(e).Error("Scheduled rate limit cleanup failed")
		}
	})
	if schErr != nil {
		utils.Logger.WithError(schErr).Fatal("Failed to schedule rate limit cleanup job")
	}
	c.Start()
	defer c.Stop()

	allowedOrigins := []string{cfg.AppUrl}
	if !cfg.LDFlag_CORSHighSecurity {
		allowedOrigins = append(allowedOrigins, constants.CORSLowSecurityAllowedOriginLocalhost)
	}

	co := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{middleware.HeaderRateLimitLimit, middleware.HeaderRateLimitRemaining, middleware.HeaderRateLimitReset, middleware.HeaderRetryAfter},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           co.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		utils.Logger.Infof("Starting %s on port: %s", cfg.AppName, cfg.AppPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	utils.Logger.Info("Shutdown signal received, draining connections...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Logger.WithError(err).Error("Graceful shutdown failed")
	}
}
