// Package api serves one-shot REST queries over the live windows and the
// candle history.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tickinsight/internal/indicator"
	"tickinsight/internal/levels"
	"tickinsight/internal/logger"
	"tickinsight/internal/metrics"
	"tickinsight/internal/model"
	"tickinsight/internal/window"
)

const traceHeader = "X-Trace-Id"

// Deps is everything the handlers read from. Windows, Engine and Timeframes
// are required; the rest are optional.
type Deps struct {
	Windows    *window.Store
	Engine     *indicator.Engine
	History    model.HistorySource
	Detector   levels.Detector
	Exchange   string
	Symbols    []string
	Timeframes []model.Timeframe

	Forming     func(symbol string, tf model.Timeframe) (model.Candle, bool)
	RecentTicks func(ctx context.Context, symbol string, n int) ([]model.Tick, error)
	Stats       func() any

	QueryTimeout time.Duration
	Metrics      *metrics.Metrics
	Debug        bool
}

// Server is the gin router plus its dependencies.
type Server struct {
	deps    Deps
	engine  *gin.Engine
	symbols map[string]bool
	tfs     map[model.Timeframe]bool
}

// New builds the router. ws, when non-nil, is mounted at /ws.
func New(deps Deps, ws http.Handler) *Server {
	if !deps.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.QueryTimeout <= 0 {
		deps.QueryTimeout = 5 * time.Second
	}
	if deps.Detector.K == 0 {
		deps.Detector = levels.DefaultDetector()
	}

	s := &Server{
		deps:    deps,
		engine:  gin.New(),
		symbols: make(map[string]bool, len(deps.Symbols)),
		tfs:     make(map[model.Timeframe]bool, len(deps.Timeframes)),
	}
	for _, sym := range deps.Symbols {
		s.symbols[sym] = true
	}
	for _, tf := range deps.Timeframes {
		s.tfs[tf] = true
	}

	s.engine.Use(gin.Recovery(), s.traceMiddleware(), s.metricsMiddleware())
	s.setupRoutes(ws)
	return s
}

func (s *Server) setupRoutes(ws http.Handler) {
	api := s.engine.Group("/api")
	api.GET("/indicators", s.getIndicators)
	api.GET("/indicators/catalog", s.getCatalog)
	api.GET("/levels", s.getLevels)
	api.GET("/levels/nearest", s.getNearest)
	api.GET("/pivots", s.getPivots)
	api.GET("/candles", s.getCandles)
	api.GET("/ticks", s.getTicks)
	api.GET("/timeframes", s.getTimeframes)
	api.GET("/stats", s.getStats)

	if ws != nil {
		s.engine.GET("/ws", gin.WrapH(ws))
	}
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

// traceMiddleware tags every request with a trace ID, reusing the caller's.
func (s *Server) traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(traceHeader)
		if id == "" {
			id = logger.GenerateTraceID()
		}
		c.Header(traceHeader, id)
		ctx := logger.WithTraceID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			slog.Warn("api request failed", append(logger.LogWithTrace(ctx),
				"path", c.Request.URL.Path,
				"status", c.Writer.Status(),
				"duration", time.Since(start))...)
		}
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if s.deps.Metrics == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.deps.Metrics.APIRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// ── error responses ──

type errorBody struct {
	Kind   model.Kind `json:"kind"`
	Detail string     `json:"detail"`
}

// statusOf maps an error kind to an HTTP status.
func statusOf(err error) int {
	switch model.KindOf(err) {
	case model.KindMalformedInput, model.KindUnknownIndicator, model.KindUnknownTimeframe:
		return http.StatusBadRequest
	case model.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorOf(err error) errorBody {
	return errorBody{Kind: model.KindOf(err), Detail: model.DetailOf(err)}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusOf(err), gin.H{"error": errorOf(err)})
}

func (s *Server) queryContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.deps.QueryTimeout)
}
