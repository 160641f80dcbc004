// Package server assembles the echo application: global middleware, the
// public and authenticated API groups, and the domain handlers.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/mediclo/mediclo/internal/config"
	"github.com/mediclo/mediclo/internal/domain/backup"
	"github.com/mediclo/mediclo/internal/domain/billing"
	"github.com/mediclo/mediclo/internal/domain/identity"
	"github.com/mediclo/mediclo/internal/domain/tenant"
	"github.com/mediclo/mediclo/internal/errs"
	"github.com/mediclo/mediclo/internal/platform/auth"
	"github.com/mediclo/mediclo/internal/platform/docstore"
	"github.com/mediclo/mediclo/internal/platform/middleware"
	"github.com/mediclo/mediclo/internal/platform/notification"
	"github.com/mediclo/mediclo/internal/platform/objectstore"
	"github.com/mediclo/mediclo/internal/platform/passhash"
)

// APIPrefix is the root of every JSON endpoint.
const APIPrefix = "/api/v1"

// Deps are the backends the application runs on. Sessions defaults to the
// docstore session repository and Events to a log publisher.
type Deps struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Docs     docstore.Store
	Objects  objectstore.Store
	Sessions identity.SessionRepository
	Events   notification.Publisher
	Hasher   identity.PasswordHasher

	// DBHealth is mounted at /health/db when set.
	DBHealth echo.HandlerFunc
}

// App is an assembled server together with the services behind it.
type App struct {
	Echo    *echo.Echo
	Tenants *tenant.Service
	Billing *billing.Service
	Backups *backup.Engine
}

// New wires the services onto a fresh echo instance.
func New(d Deps) (*App, error) {
	if d.Config == nil || d.Docs == nil || d.Objects == nil {
		return nil, errors.New("server: config, docstore and objectstore are required")
	}
	cfg, logger := d.Config, d.Logger
	if d.Sessions == nil {
		d.Sessions = identity.NewDocstoreSessionRepo(d.Docs)
	}
	if d.Events == nil {
		d.Events = notification.NewLogPublisher(logger)
	}
	if d.Hasher == nil {
		d.Hasher = passhash.New(0)
	}

	repo := identity.NewRepository(d.Docs)
	resolver := identity.NewResolver(repo, d.Hasher, logger)
	sessions := identity.NewSessionService(d.Sessions, cfg.SessionTTL, logger)
	sessions.SetAccountCheck(repo.AccountActive)
	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSigningKey), cfg.JWTIssuer, cfg.JWTTTL)

	identitySvc := identity.NewService(resolver, sessions, tokens, logger)
	tenantSvc := tenant.NewService(repo, d.Hasher, d.Events, logger)
	billingSvc := billing.NewService(billing.NewInvoiceRepository(d.Docs), d.Events, logger, cfg.InvoicePrefix)
	engine := backup.NewEngine(d.Docs, d.Objects, d.Events, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.SessionHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.DBHealth != nil {
		e.GET("/health/db", d.DBHealth)
	}

	// MemoryStore URLs point back at this server; S3 hands out presigned URLs.
	if _, ok := d.Objects.(*objectstore.MemoryStore); ok {
		objectstore.NewHandler(d.Objects).RegisterRoutes(e)
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	limit := middleware.RateLimit(rateLimitCfg)
	loginLimit := middleware.RateLimit(middleware.LoginRateLimitConfig(cfg.LoginRateLimitRPS, cfg.LoginRateLimitBurst))

	public := e.Group(APIPrefix, limit)
	logins := public.Group("", loginLimit)
	api := e.Group(APIPrefix, auth.Middleware(auth.MiddlewareConfig{Tokens: tokens, Sessions: sessions}), limit)

	identity.NewHandler(identitySvc).RegisterRoutes(logins, api)
	tenant.NewHandler(tenantSvc).RegisterRoutes(public, api)
	billing.NewHandler(billingSvc).RegisterRoutes(api)
	backup.NewHandler(engine, cfg.BackupRetentionDays).RegisterRoutes(api)

	return &App{Echo: e, Tenants: tenantSvc, Billing: billingSvc, Backups: engine}, nil
}

// ErrorHandler renders every failure as {"error": "<message>"}. Errors that
// did not pass through errs.HTTPError are mapped here so internal detail
// never reaches the caller.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, msg := http.StatusInternalServerError, "internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = fmt.Sprint(he.Message)
			}
			if he.Internal != nil && status >= http.StatusInternalServerError {
				logger.Error().Err(he.Internal).Str("path", c.Request().URL.Path).Msg("request failed")
			}
		} else {
			status, msg = errs.HTTPStatus(err), errs.PublicMessage(err)
			if status >= http.StatusInternalServerError {
				logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
			}
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, map[string]string{"error": msg})
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}
