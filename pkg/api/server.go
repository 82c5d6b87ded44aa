// Package api provides a small HTTP status surface for a running transfer
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StatsProvider is implemented by both protocol engines
type StatsProvider interface {
	Stats() map[string]interface{}
	Digest() string
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Role          string                 `json:"role"`
	UptimeSeconds float64                `json:"uptimeSeconds"`
	Digest        string                 `json:"digest"`
	Counters      map[string]interface{} `json:"counters"`
	CheckedAt     time.Time              `json:"checkedAt"`
}

// Server serves live engine counters over HTTP
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	provider   StatsProvider
	role       string
	port       int
	started    time.Time
}

// NewServer creates a status server for the given role ("sender" or
// "receiver") backed by provider
func NewServer(role string, provider StatsProvider, port int) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:   router,
		provider: provider,
		role:     role,
		port:     port,
		started:  time.Now(),
	}

	router.GET("/health", s.handleHealth)
	router.GET("/status", s.handleStatus)

	return s
}

// Start begins serving in the background
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("status API listening on port %d", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("status API error: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "role": s.role})
}

// handleStatus handles GET /status
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Role:          s.role,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Digest:        s.provider.Digest(),
		Counters:      s.provider.Stats(),
		CheckedAt:     time.Now(),
	})
}
