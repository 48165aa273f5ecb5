package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/MbinOrg/mbin-sub001/activitypub"
	"github.com/MbinOrg/mbin-sub001/db"
	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/MbinOrg/mbin-sub001/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const (
	contentTypeActivityJSON = "application/activity+json; charset=utf-8"
	contentTypeJRD          = "application/jrd+json; charset=utf-8"

	// Max 1MB request body size for ActivityPub activities
	maxInboxBodySize = 1 * 1024 * 1024
)

// Server serves the federation surface of the instance: signed inbox
// ingress, local actor documents, WebFinger and NodeInfo.
type Server struct {
	conf        *util.AppConfig
	db          *db.DB
	resolver    *activitypub.Resolver
	publisher   Publisher
	topic       string
	localDomain string
	now         func() time.Time
}

// ServerConfig holds the collaborators of a Server.
type ServerConfig struct {
	DB        *db.DB
	Resolver  *activitypub.Resolver
	Publisher Publisher
	Topic     string
	Now       func() time.Time
}

func NewServer(conf *util.AppConfig, cfg ServerConfig) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{
		conf:        conf,
		db:          cfg.DB,
		resolver:    cfg.Resolver,
		publisher:   cfg.Publisher,
		topic:       cfg.Topic,
		localDomain: conf.Conf.SslDomain,
		now:         cfg.Now,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	// Set Gin to use the same log writer as the rest of the application
	gin.DefaultWriter = util.GetLogWriter()
	gin.DefaultErrorWriter = util.GetLogWriter()

	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	g.GET("/health", s.handleHealth)
	if s.conf.Conf.WithMetrics {
		g.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Stricter rate limit for inbox deliveries: 5 req/sec per IP
	inboxLimiter := NewRateLimiter(rate.Limit(5), 10)
	maxBodySize := MaxBytesMiddleware(maxInboxBodySize)

	g.POST("/inbox", RateLimitMiddleware(inboxLimiter), maxBodySize, s.handleInbox(""))
	g.POST("/m/:name/inbox", RateLimitMiddleware(inboxLimiter), maxBodySize, s.handleInbox(domain.ActorMagazine))
	g.POST("/u/:name/inbox", RateLimitMiddleware(inboxLimiter), maxBodySize, s.handleInbox(domain.ActorUser))

	g.GET("/m/:name", s.handleActor(domain.ActorMagazine))
	g.GET("/u/:name", s.handleActor(domain.ActorUser))
	g.GET("/m/:name/outbox", s.handleOutbox(domain.ActorMagazine))
	g.GET("/u/:name/outbox", s.handleOutbox(domain.ActorUser))
	g.GET("/m/:name/followers", s.handleFollowers(domain.ActorMagazine))
	g.GET("/u/:name/followers", s.handleFollowers(domain.ActorUser))
	g.GET("/m/:name/moderators", s.handleModerators)
	g.GET("/m/:name/featured", s.handleFeatured)

	g.GET("/.well-known/webfinger", s.handleWebFinger)

	// NodeInfo endpoints for server discovery and statistics
	g.GET("/.well-known/nodeinfo", func(c *gin.Context) {
		c.JSON(http.StatusOK, GetWellKnownNodeInfo(s.localDomain))
	})
	g.GET("/nodeinfo/2.0", s.handleNodeInfo)

	return g
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	log.Printf("Starting federation server on %s", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	log.Println("HTTP server stopped gracefully")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": util.GetVersion()})
}
