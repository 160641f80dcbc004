package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the connection pool summary reported by the health endpoint.
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
}

// Pinger is the part of a pool the health check needs. Stats may return nil.
type Pinger interface {
	Ping(ctx context.Context) error
	Stats() *PoolStats
}

type poolPinger struct{ pool *pgxpool.Pool }

// PoolPinger adapts a pgx pool for HealthHandler.
func PoolPinger(pool *pgxpool.Pool) Pinger { return poolPinger{pool: pool} }

func (p poolPinger) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p poolPinger) Stats() *PoolStats {
	st := p.pool.Stat()
	return &PoolStats{
		TotalConns:    st.TotalConns(),
		IdleConns:     st.IdleConns(),
		AcquiredConns: st.AcquiredConns(),
		MaxConns:      st.MaxConns(),
	}
}

// HealthHandler pings the database with a five second budget. The ping
// error is not echoed to the caller.
func HealthHandler(p Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]any{"status": "healthy"}
		if stats := p.Stats(); stats != nil {
			body["pool"] = stats
		}
		if err := p.Ping(ctx); err != nil {
			body["status"] = "unhealthy"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	}
}
