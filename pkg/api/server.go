// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the data layer of an edge node as JSON over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edgenode-hub/edgenode-core/pkg/config"
	"github.com/edgenode-hub/edgenode-core/pkg/core"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type Server struct {
	core   *core.Core
	server *http.Server
	router *gin.Engine
	log    *zap.SugaredLogger
	config config.APIConfig
}

func NewServer(c *core.Core, cfg config.APIConfig, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	s := &Server{core: c, config: cfg, log: log}
	s.router = s.buildRouter()

	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *gin.Engine {
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(s.requestIDMiddleware())
	router.Use(s.loggingMiddleware())

	if len(s.config.CORSOrigins) > 0 {
		router.Use(s.corsMiddleware())
	}

	router.GET("/health", s.health)

	v1 := router.Group("/api/v1")

	devices := v1.Group("/devices")
	devices.GET("", s.listDevices)
	devices.POST("", s.createDevice)
	devices.GET("/:id", s.getDevice)
	devices.PUT("/:id", s.updateDevice)
	devices.DELETE("/:id", s.deleteDevice)
	devices.GET("/:id/latest", s.latestByDevice)
	devices.GET("/:id/latest/:sensorType", s.latestByDeviceAndType)
	devices.GET("/:id/readings", s.listReadings)
	devices.GET("/:id/alerts", s.deviceAlerts)

	v1.POST("/readings", s.recordReading)

	alerts := v1.Group("/alerts")
	alerts.GET("", s.listAlerts)
	alerts.POST("", s.createAlert)
	alerts.GET("/:id", s.getAlert)
	alerts.PUT("/:id", s.updateAlert)
	alerts.DELETE("/:id", s.deleteAlert)

	settings := v1.Group("/settings")
	settings.GET("", s.listSettings)
	settings.GET("/:key", s.getSetting)
	settings.PUT("/:key", s.putSetting)
	settings.DELETE("/:key", s.deleteSetting)

	v1.GET("/export", s.exportAll)
	v1.POST("/import", s.importAll)
	v1.POST("/reset", s.reset)

	return router
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.log.Infow("Starting API server", "port", s.config.Port, "cors_origins", s.config.CORSOrigins)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server failed: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.log.Info("Stopping API server")

	return s.server.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		c.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		s.log.Debugw("API request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", c.GetString(RequestIDHeader),
		)
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		for _, allowedOrigin := range s.config.CORSOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				c.Header("Access-Control-Allow-Origin", allowedOrigin)
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
				c.Header("Access-Control-Expose-Headers", RequestIDHeader+", Content-Disposition")

				break
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)

			return
		}

		c.Next()
	}
}
