package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/torrentxiv/config"
	"github.com/jkaberg/torrentxiv/metrics"
	"github.com/jkaberg/torrentxiv/session"
)

// Session is the controller surface exposed over HTTP.
type Session interface {
	Status() session.Status
	Metadata() *session.Metadata
	Traffic() *session.TrafficStats
	Start() error
	Pause(done func(session.Snapshot))
	OnAny(fn session.Handler) (unsubscribe func())
}

// Limiter reads and updates the client rate limits, in Mbit/s.
type Limiter interface {
	Limits() (dlMbit, ulMbit float64)
	SetLimits(dlMbit, ulMbit float64) error
}

type Options struct {
	// LogPath is the log file served by /api/log. Empty disables the route.
	LogPath string
	Metrics bool
	// Limiter enables the /api/settings/limits routes.
	Limiter Limiter
}

// New serves the HTTP interface until ctx is done.
func New(ctx context.Context, s Session, o Options, cfg *config.HTTP) error {
	hub := NewHub()
	defer hub.Close()
	unsubscribe := hub.Follow(s)
	defer unsubscribe()

	addr := fmt.Sprintf("%s:%d", cfg.IP, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(s, hub, o),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("host", addr).Msg("starting webserver")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("error initializing server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("error shutting down server: %w", err)
	}

	return nil
}

func NewRouter(s Session, hub *Hub, o Options) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.ErrorLogger())
	r.Use(Logger())

	api := r.Group("/api")
	{
		api.GET("/status", apiStatusHandler(s))
		api.GET("/metadata", apiMetadataHandler(s))
		api.GET("/traffic", apiTrafficHandler(s))
		api.POST("/start", apiStartHandler(s))
		api.POST("/pause", apiPauseHandler(s))
		api.GET("/events", hub.ServeWS)

		if o.LogPath != "" {
			api.GET("/log", apiLogHandler(o.LogPath))
		}

		if o.Limiter != nil {
			api.GET("/settings/limits", apiGetLimitsHandler(o.Limiter))
			api.POST("/settings/limits", apiSetLimitsHandler(o.Limiter))
		}
	}

	if o.Metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	return r
}

// Logger logs every request and counts it in the request metrics.
func Logger() gin.HandlerFunc {
	l := log.Logger.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		c.Next()

		s := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(s)).Inc()

		if raw != "" {
			path = path + "?" + raw
		}
		msg := c.Errors.String()
		if msg == "" {
			msg = "Request"
		}

		e := l.Debug()
		switch {
		case s >= 500:
			e = l.Error()
		case s >= 400:
			e = l.Warn()
		}
		e.Str("method", c.Request.Method).Str("path", path).Int("status", s).Msg(msg)
	}
}
