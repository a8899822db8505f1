package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	commonmw "github.com/cosc121od/pycode/internal/common/http/middleware"
)

func TestHTTPMetricsExposed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	metrics, err := commonmw.NewHTTPMetrics(reg)
	if err != nil {
		t.Fatalf("register metrics failed: %v", err)
	}

	router := gin.New()
	router.Use(metrics.Middleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	router.GET("/metrics", commonmw.PrometheusHandler(reg))

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `pycode_http_requests_total{endpoint="/ping",method="GET",status="200"} 1`) {
		t.Fatalf("request counter missing from exposition:\n%s", body)
	}

	if _, err := commonmw.NewHTTPMetrics(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
