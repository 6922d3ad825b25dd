package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowledger/flowledger/pkg/resilience"
)

func healthyChecker(name string) *CustomChecker {
	return NewCustomChecker(name, func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "ok", nil
	})
}

func TestService_CheckHealth_AllHealthy(t *testing.T) {
	svc := NewService(nil, nil)
	svc.RegisterChecker("a", healthyChecker("a"))
	svc.RegisterChecker("b", healthyChecker("b"))

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestService_CheckHealth_UnhealthyWins(t *testing.T) {
	svc := NewService(nil, nil)
	svc.RegisterChecker("good", healthyChecker("good"))
	svc.RegisterChecker("bad", NewCustomChecker("bad", func(ctx context.Context) (Status, string, error) {
		return StatusUnhealthy, "down", errors.New("connection refused")
	}))

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["bad"].Error)
}

func TestService_CheckHealth_DegradedWhenNoFailures(t *testing.T) {
	svc := NewService(nil, nil)
	svc.RegisterChecker("good", healthyChecker("good"))
	svc.RegisterChecker("slow", NewCustomChecker("slow", func(ctx context.Context) (Status, string, error) {
		return StatusDegraded, "pool running low", nil
	}))

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestService_UnregisterChecker(t *testing.T) {
	svc := NewService(nil, nil)
	svc.RegisterChecker("a", healthyChecker("a"))
	svc.UnregisterChecker("a")

	resp := svc.CheckHealth(context.Background())
	assert.Empty(t, resp.Checks)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestCustomChecker_ErrorForcesUnhealthy(t *testing.T) {
	checker := NewCustomChecker("flaky", func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "claims healthy", errors.New("but errored")
	})

	check := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Equal(t, "but errored", check.Error)
}

func TestDatabaseChecker_NilConnection(t *testing.T) {
	checker := NewDatabaseChecker(nil, "postgres")

	check := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Contains(t, check.Error, "nil")
}

func TestRedisChecker_NilConnection(t *testing.T) {
	checker := NewRedisChecker(nil, "redis")

	check := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Contains(t, check.Error, "nil")
}

func TestBreakerChecker(t *testing.T) {
	registry := resilience.NewRegistry(resilience.RegistryConfig{
		Defaults: resilience.Settings{FailureThreshold: 1, RecoveryTimeout: time.Minute},
	})
	checker := NewBreakerChecker(registry, "breakers")

	ctx := context.Background()
	require.NoError(t, registry.Execute(ctx, "warehouse", func(ctx context.Context) error { return nil }))

	check := checker.Check(ctx)
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, "1", check.Metadata["total_breakers"])

	require.Error(t, registry.Execute(ctx, "warehouse", func(ctx context.Context) error { return errors.New("down") }))

	check = checker.Check(ctx)
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Contains(t, check.Message, "warehouse")
	assert.Equal(t, "1", check.Metadata["open_breakers"])
}

func TestBreakerChecker_NilRegistry(t *testing.T) {
	checker := NewBreakerChecker(nil, "breakers")

	check := checker.Check(context.Background())
	assert.Equal(t, StatusUnknown, check.Status)
}

func TestHTTPChecker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL, "upstream", time.Second)
	check := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, "200", check.Metadata["status_code"])
}

func TestHTTPChecker_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL, "upstream", time.Second)
	check := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
}

func TestService_Handler_StatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := NewService(nil, nil)
	svc.RegisterChecker("bad", NewCustomChecker("bad", func(ctx context.Context) (Status, string, error) {
		return StatusUnhealthy, "down", nil
	}))

	router := gin.New()
	router.GET("/health", svc.Handler())
	router.GET("/health/live", svc.LivenessHandler())
	router.GET("/health/ready", svc.ReadinessHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
