// Package api wires the HTTP surface: the payment webhook endpoint, the
// product-side validation endpoint, and the support lookup/export routes.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/rescuepc/licensing/internal/license"
	"github.com/rescuepc/licensing/internal/ratelimit"
	"github.com/rescuepc/licensing/internal/webhook"
)

// Server is the licensing API server.
type Server struct {
	echo *echo.Echo
	port int

	engine       *license.Engine
	validator    *license.Validator
	webhook      *webhook.Handler
	notifier     webhook.Notifier
	exportSecret []byte
}

// Options collects the server's collaborators and route policies.
type Options struct {
	Port         int
	Engine       *license.Engine
	Validator    *license.Validator
	Webhook      *webhook.Handler
	Notifier     webhook.Notifier
	ExportSecret []byte

	// GeneralLimit guards the public license routes; WebhookLimit guards
	// the webhook path with looser bounds. The scorer only biases the
	// general path: the payment provider must always pass regardless of
	// heuristic score.
	GeneralLimit ratelimit.MiddlewareConfig
	WebhookLimit ratelimit.MiddlewareConfig
}

// NewServer builds the echo server and mounts all routes.
func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:         e,
		port:         opts.Port,
		engine:       opts.Engine,
		validator:    opts.Validator,
		webhook:      opts.Webhook,
		notifier:     opts.Notifier,
		exportSecret: opts.ExportSecret,
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	hooks := e.Group("/api/v1/webhook", ratelimit.Middleware(opts.WebhookLimit))
	hooks.POST("/payment", s.webhook.Handle)

	v1 := e.Group("/api/v1", ratelimit.Middleware(opts.GeneralLimit))
	v1.POST("/license/validate", s.validateLicense)
	v1.GET("/licenses", s.listLicenses)
	v1.GET("/license/:key", s.getLicense)
	v1.GET("/license/:key/export", s.exportLicense)
	v1.POST("/license/:key/resend", s.resendDelivery)

	return s
}

// Start runs the server until interrupted, then shuts down gracefully.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

type validateRequest struct {
	Key      string `json:"key"`
	DeviceID string `json:"device_id"`
}

// validateLicense is the product-activation endpoint: check the stored
// record and consume a device slot when the fingerprint is new.
func (s *Server) validateLicense(c echo.Context) error {
	var req validateRequest
	if err := c.Bind(&req); err != nil || req.Key == "" || req.DeviceID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "key and device_id are required",
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	result, err := s.validator.Validate(ctx, req.Key, req.DeviceID)
	if err != nil {
		log.Error().Err(err).Str("key", req.Key).Msg("validation store failure")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "temporary failure, retry",
		})
	}
	return c.JSON(http.StatusOK, result)
}

// listLicenses returns every license held by a customer email, for support
// lookups when the purchaser lost the key.
func (s *Server) listLicenses(c echo.Context) error {
	email := c.QueryParam("email")
	if email == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "email is required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := s.engine.LookupByEmail(ctx, email)
	if err != nil {
		return s.lookupError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"licenses": out})
}

func (s *Server) getLicense(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	l, err := s.engine.Lookup(ctx, c.Param("key"))
	if err != nil {
		return s.lookupError(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

// exportLicense returns the record as a signed token so support can verify
// copies offline.
func (s *Server) exportLicense(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	l, err := s.engine.Lookup(ctx, c.Param("key"))
	if err != nil {
		return s.lookupError(c, err)
	}
	token, err := license.ExportToken(l, s.exportSecret)
	if err != nil {
		log.Error().Err(err).Str("key", l.Key).Msg("export token signing failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "export failed"})
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

// resendDelivery re-enqueues the welcome email for support re-delivery.
func (s *Server) resendDelivery(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	l, err := s.engine.Lookup(ctx, c.Param("key"))
	if err != nil {
		return s.lookupError(c, err)
	}
	if s.notifier == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "delivery unavailable"})
	}
	if err := s.notifier.EnqueueLicenseDelivery(ctx, l); err != nil {
		log.Error().Err(err).Str("key", l.Key).Msg("re-delivery enqueue failed")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "temporary failure, retry"})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) lookupError(c echo.Context, err error) error {
	if errors.Is(err, license.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "license not found"})
	}
	log.Error().Err(err).Msg("license lookup failure")
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "temporary failure, retry"})
}
