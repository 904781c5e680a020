package ratelimit

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// Scorer is the origin/bot gate signal: a trust score in [0,1] where higher
// means more bot-like. Advisory only; it biases limiter strictness and
// flags requests for audit, never rejects on its own.
type Scorer interface {
	Score(r *http.Request) float64
}

// MiddlewareConfig wires a limiter pair to an echo route group. Requests
// scoring at or above SuspectThreshold are counted against the stricter
// limiter.
type MiddlewareConfig struct {
	Standard         Limiter
	Suspect          Limiter
	Scorer           Scorer
	SuspectThreshold float64
}

// Middleware returns an echo middleware enforcing the sliding window per
// client IP. A denied request gets a distinct 429; it never silently
// degrades. Limiter store errors fail open with a log line so a Redis
// outage cannot take payment traffic down with it.
func Middleware(cfg MiddlewareConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()

			limiter := cfg.Standard
			if cfg.Scorer != nil && cfg.Suspect != nil {
				if score := cfg.Scorer.Score(c.Request()); score >= cfg.SuspectThreshold {
					log.Info().Str("remote", ip).Float64("bot_score", score).
						Str("path", c.Path()).Msg("suspect origin, strict rate limit applied")
					limiter = cfg.Suspect
				}
			}

			allowed, err := limiter.Allow(c.Request().Context(), ip)
			if err != nil {
				log.Error().Err(err).Str("remote", ip).Msg("rate limiter unavailable, allowing request")
				return next(c)
			}
			if !allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "too many requests",
				})
			}
			return next(c)
		}
	}
}
