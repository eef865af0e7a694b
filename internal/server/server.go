// Package server exposes the agent to the survey UI over a loopback REST API.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/pders01/pollsync/internal/cache"
	"github.com/pders01/pollsync/internal/catalog"
	"github.com/pders01/pollsync/internal/debuglog"
	"github.com/pders01/pollsync/internal/monitor"
	"github.com/pders01/pollsync/internal/orchestrator"
	"github.com/pders01/pollsync/internal/queue"
	"github.com/pders01/pollsync/internal/search"
)

// Session is the part of the agent rebuilt on every reload.
type Session struct {
	Catalog      *catalog.Catalog
	Orchestrator *orchestrator.Orchestrator
}

type Options struct {
	Listen   string
	Queue    *queue.Queue
	Cache    *cache.Manager
	Monitor  *monitor.Monitor
	Searcher search.Searcher
	// Resume receives a signal for every resume request.
	Resume chan<- struct{}
	// PollMaxAge is used for cached listings.
	PollMaxAge time.Duration
}

// Rest API server for the survey UI
type Server struct {
	opts       Options
	Router     *gin.Engine
	httpServer *http.Server
	registry   *prometheus.Registry
	session    atomic.Pointer[Session]
	log        *logrus.Entry
}

func New(opts Options) (self *Server) {
	self = new(Server)
	self.opts = opts
	self.log = debuglog.Module("server")

	gin.SetMode(gin.ReleaseMode)
	self.Router = gin.New()
	self.Router.Use(gin.Recovery(), self.logRequests)

	self.registry = prometheus.NewRegistry()
	if opts.Monitor != nil {
		self.registry.MustRegister(opts.Monitor.GetPrometheusCollector())
	}

	self.routes()

	self.httpServer = &http.Server{
		Addr:              opts.Listen,
		Handler:           self.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return
}

// Attach makes a session serve submissions. Nil detaches it.
func (self *Server) Attach(s *Session) {
	self.session.Store(s)
}

func (self *Server) routes() {
	v1 := self.Router.Group("v1")
	{
		v1.GET("health", self.onGetHealth)
		v1.GET("state", self.onGetState)

		v1.GET("queue", self.onGetQueue)
		v1.POST("queue", self.onPostQueue)
		v1.POST("queue/process", self.onProcessQueue)

		v1.POST("lifecycle/resume", self.onResume)

		v1.GET("polls", self.onGetPolls)
		v1.GET("polls/:id", self.onGetPoll)
		v1.GET("polls/:id/thumbnail", self.onGetThumbnail)

		v1.GET("search", self.onSearch)
	}
	self.Router.GET("metrics", gin.WrapH(promhttp.HandlerFor(self.registry, promhttp.HandlerOpts{})))
}

func (self *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	self.log.WithField("method", c.Request.Method).
		WithField("path", c.FullPath()).
		WithField("status", c.Writer.Status()).
		WithField("duration", time.Since(start)).
		Debug("Request")
}

// Start listens and serves until ctx is done, then shuts down gracefully.
func (self *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", self.opts.Listen)
	if err != nil {
		return err
	}
	return self.Serve(ctx, ln)
}

func (self *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		self.log.WithField("addr", ln.Addr().String()).Info("Serving local API")
		errc <- self.httpServer.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := self.httpServer.Shutdown(shutdownCtx); err != nil {
		self.log.WithError(err).Error("Failed to gracefully shutdown REST server")
		return err
	}
	return nil
}
