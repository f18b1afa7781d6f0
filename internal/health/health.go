// Package health performs liveness and readiness checks and serves
// them on a dedicated port alongside the Prometheus metrics endpoint.
package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/config"
	"github.com/logwarden/logwarden/internal/store"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check result
type Check struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Checker performs health checks
type Checker struct {
	store    *store.Store
	resolver *config.Resolver
	logger   *zap.Logger
}

// New creates a new health checker
func New(st *store.Store, resolver *config.Resolver, logger *zap.Logger) *Checker {
	return &Checker{store: st, resolver: resolver, logger: logger}
}

// CheckAll performs all health checks
func (c *Checker) CheckAll(ctx context.Context) (Status, []Check) {
	checks := []Check{
		c.checkDatabase(ctx),
		c.checkAIConfig(ctx),
	}

	overallStatus := StatusHealthy
	for _, check := range checks {
		if check.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
			break
		} else if check.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return overallStatus, checks
}

// checkDatabase verifies the primary store responds.
func (c *Checker) checkDatabase(ctx context.Context) Check {
	start := time.Now()
	check := Check{Name: "database", Timestamp: start}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.store.Ping(checkCtx)
	check.Duration = time.Since(start)

	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database unreachable: %v", err)
		c.logger.Error("Health check failed: database",
			zap.Error(err), zap.Duration("duration", check.Duration))
	} else {
		check.Status = StatusHealthy
		check.Message = "Database reachable"
	}
	return check
}

// checkAIConfig verifies the LLM backend is configured. Missing
// credentials degrade the service (the pipeline idles) but do not make
// it unhealthy.
func (c *Checker) checkAIConfig(ctx context.Context) Check {
	start := time.Now()
	check := Check{Name: "ai_config", Timestamp: start}

	ai := c.resolver.AI(ctx)
	check.Duration = time.Since(start)

	switch {
	case ai.BaseURL == "":
		check.Status = StatusDegraded
		check.Message = "No LLM base URL configured"
	default:
		check.Status = StatusHealthy
		check.Message = "AI backend configured"
	}
	return check
}
