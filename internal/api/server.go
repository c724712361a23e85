// Package api serves published articles, the approval endpoints and the
// monitoring endpoints over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/deusflow/techfeed/internal/article"
	"github.com/deusflow/techfeed/internal/metrics"
	"github.com/deusflow/techfeed/internal/storage"
)

type Store interface {
	ListPublished(ctx context.Context, q storage.ListQuery) (storage.Page, error)
	GetBySlug(ctx context.Context, slug string) (*article.Article, error)
	ListByStatus(ctx context.Context, status article.Status, limit int) ([]*article.Article, error)
	SetStatus(ctx context.Context, id int64, status article.Status) (*article.Article, error)
	Stats(ctx context.Context) (map[string]int, error)
	Ping(ctx context.Context) error
}

// Budget reports the daily generation budget on /metrics.
type Budget interface {
	GetStats() map[string]interface{}
}

type Options struct {
	CORSOrigins []string
	SiteURL     string
	Debug       bool
	Budget      Budget
}

type Server struct {
	store   Store
	opts    Options
	metrics *metrics.Metrics
	log     *slog.Logger
	router  *gin.Engine
}

func NewServer(store Store, opts Options, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	opts.SiteURL = strings.TrimRight(opts.SiteURL, "/")
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"http://localhost:3000"}
	}

	s := &Server{store: store, opts: opts, metrics: metrics.Global, log: log}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins: s.opts.CORSOrigins,
		AllowMethods: []string{"GET", "PUT", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type"},
	}))

	r.GET("/api/articles", s.listArticles)
	r.GET("/api/articles/pending", s.listPending)
	r.GET("/api/articles/:slug", s.getArticle)
	r.PUT("/api/articles/:id/status", s.updateStatus)
	r.GET("/feed.xml", s.feed)
	r.GET("/health", s.health)
	r.GET("/metrics", s.stats)
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", "addr", addr)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}
