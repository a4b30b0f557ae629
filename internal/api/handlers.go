package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/civicworks/complaint-forecast/internal/metrics"
	"github.com/civicworks/complaint-forecast/internal/models"
	"github.com/civicworks/complaint-forecast/internal/resolver"
	"github.com/civicworks/complaint-forecast/internal/summary"
	"github.com/civicworks/complaint-forecast/internal/utils"
)

// latencyLogEvery controls how often the p95 resolution latency is logged.
const latencyLogEvery = 100

// ForecastService resolves slice forecast requests.
type ForecastService interface {
	Resolve(ctx context.Context, req models.ForecastRequest) (models.ForecastResult, error)
}

// SliceCatalog lists the slice dimensions available in the aggregate store.
type SliceCatalog interface {
	Neighborhoods(ctx context.Context) ([]string, error)
	Items(ctx context.Context, level models.Level) ([]string, error)
	ValidMonths(ctx context.Context) (models.MonthlySeries, error)
}

// Handlers binds the HTTP surface to the forecast components.
type Handlers struct {
	service  ForecastService
	catalog  SliceCatalog
	slot     *summary.Slot
	logger   *slog.Logger
	latency  *utils.LatencyTracker
	requests atomic.Uint64
}

// NewHandlers wires the handler set.
func NewHandlers(service ForecastService, catalog SliceCatalog, slot *summary.Slot, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service: service,
		catalog: catalog,
		slot:    slot,
		logger:  logger,
		latency: utils.NewLatencyTracker(512),
	}
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(h *Handlers, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	if len(allowedOrigins) == 0 {
		router.Use(cors.Default())
	} else {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = allowedOrigins
		router.Use(cors.New(corsCfg))
	}

	router.GET("/health", h.Health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/forecast", h.Forecast)
		v1.GET("/summary", h.Summary)
		v1.GET("/slices", h.Slices)
	}
	return router
}

// Health is the liveness probe.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Forecast answers GET /api/v1/forecast.
func (h *Handlers) Forecast(c *gin.Context) {
	req, err := parseForecastQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	started := time.Now()
	result, err := h.service.Resolve(c.Request.Context(), req)
	elapsed := time.Since(started)

	switch {
	case errors.Is(err, resolver.ErrNoSliceMapping):
		metrics.ObserveForecast(elapsed, metrics.OutcomeUnavailable)
		c.JSON(http.StatusNotFound, gin.H{"error": "forecast not available for the requested slice"})
		return
	case err != nil:
		metrics.ObserveForecast(elapsed, metrics.OutcomeError)
		h.logger.Error("forecast resolution failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	outcome := metrics.OutcomeSuccess
	if result.InsufficientData() {
		outcome = metrics.OutcomeDegraded
	}
	metrics.ObserveForecast(elapsed, outcome)
	h.observeLatency(elapsed)

	c.JSON(http.StatusOK, result)
}

// Summary answers GET /api/v1/summary with the homepage forecast, or a
// placeholder while the background computation is still pending.
func (h *Handlers) Summary(c *gin.Context) {
	state, result, _ := h.slot.Poll()
	switch state {
	case summary.Pending:
		c.JSON(http.StatusOK, gin.H{"status": "loading"})
		return
	case summary.Failed:
		c.JSON(http.StatusOK, gin.H{"status": "unavailable"})
		return
	}

	payload := gin.H{
		"status":      "ready",
		"reliability": result.Reliability,
		"mape":        result.MAPE,
	}
	if len(result.Future) > 0 {
		next := result.Future[0]
		payload["month"] = next.Month
		payload["predicted"] = next.Predicted
	}
	if months, err := h.catalog.ValidMonths(c.Request.Context()); err == nil && len(months) > 0 {
		payload["coverage"] = gin.H{"first": months.First(), "last": months.Last()}
	}
	c.JSON(http.StatusOK, payload)
}

// Slices answers GET /api/v1/slices with the dimensions the dashboard can
// request.
func (h *Handlers) Slices(c *gin.Context) {
	ctx := c.Request.Context()

	neighborhoods, err := h.catalog.Neighborhoods(ctx)
	if err != nil {
		h.logger.Error("neighborhood listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	items := make(map[string][]string, 3)
	for _, level := range []models.Level{models.LevelDepartment, models.LevelDivision, models.LevelCategory} {
		values, err := h.catalog.Items(ctx, level)
		if err != nil {
			h.logger.Error("item listing failed", "level", string(level), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		items[string(level)] = values
	}

	c.JSON(http.StatusOK, gin.H{
		"neighborhoods": neighborhoods,
		"items":         items,
		"metrics":       []models.Metric{models.MetricVolume, models.MetricSeverity},
	})
}

func (h *Handlers) observeLatency(d time.Duration) {
	h.latency.Observe(d)
	if n := h.requests.Add(1); n%latencyLogEvery == 0 {
		h.logger.Info("forecast latency",
			"requests", n,
			"p50", h.latency.Percentile(50),
			"p95", h.latency.Percentile(95))
	}
}

func parseForecastQuery(c *gin.Context) (models.ForecastRequest, error) {
	req := models.ForecastRequest{
		Neighborhood: c.Query("neighborhood"),
		Item:         c.Query("item"),
	}

	metric, err := models.ParseMetric(c.DefaultQuery("metric", string(models.MetricVolume)))
	if err != nil {
		return models.ForecastRequest{}, err
	}
	req.Metric = metric

	if levelParam := c.Query("level"); levelParam != "" {
		level, err := models.ParseLevel(levelParam)
		if err != nil {
			return models.ForecastRequest{}, err
		}
		req.Level = level
	}

	if horizonParam := c.Query("horizon"); horizonParam != "" {
		horizon, err := strconv.Atoi(horizonParam)
		if err != nil || horizon < 1 {
			return models.ForecastRequest{}, errors.New("horizon must be a positive integer")
		}
		req.Horizon = horizon
	}
	return req, nil
}
