// Package server 换天演示服务的 HTTP 外壳
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/skyreplace/config"
	"github.com/chaos-io/skyreplace/sky"
	"github.com/chaos-io/skyreplace/skybox"
)

const (
	requestIDHeader = "X-Request-Id"
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg       config.Server
	pipeline  *sky.Pipeline
	templates *skybox.Registry
	defaults  sky.Options
	logger    *slog.Logger
	router    *gin.Engine
}

func New(cfg config.Server, p *sky.Pipeline, reg *skybox.Registry, defaults sky.Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		pipeline:  p,
		templates: reg,
		defaults:  defaults,
		logger:    logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.MaxMultipartMemory = s.cfg.MaxUploadBytes

	r.GET("/healthcheck", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api")
	api.GET("/templates", s.handleTemplates)
	api.GET("/skybox/:name", s.handleSkybox)
	api.POST("/upload-skybox", s.handleUploadSkybox)
	api.POST("/replace", s.handleReplace)
	api.GET("/download/:id", s.handleDownload)
	api.GET("/download/:id/matte", s.handleDownloadMatte)
	return r
}

// requestLogger 给每个请求分配 ksuid 并记录耗时
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = ksuid.New().String()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)

		c.Next()

		s.logger.Info("http request",
			"request_id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}

// Run 启动服务和结果清理任务，ctx 结束后优雅退出
func (s *Server) Run(ctx context.Context) error {
	sweeper := cron.New()
	if s.cfg.ResultTTL > 0 && s.cfg.SweepSchedule != "" {
		if _, err := sweeper.AddFunc(s.cfg.SweepSchedule, s.sweep); err != nil {
			return err
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("skyreplace server listening", "addr", s.cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown failed", "err", err)
			return err
		}
		return nil
	case err := <-serverErr:
		return err
	}
}
