package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"

	"github.com/deusflow/techfeed/internal/article"
	"github.com/deusflow/techfeed/internal/classify"
	"github.com/deusflow/techfeed/internal/storage"
)

const pendingLimit = 100

type ArticlesResponse struct {
	Articles []*article.Article `json:"articles"`
	Page     int                `json:"page"`
	Pages    int                `json:"pages"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) listArticles(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	domain, ok := domainLabel(c.Query("domain"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown domain"})
		return
	}

	res, err := s.store.ListPublished(c.Request.Context(), storage.ListQuery{
		Page:    page,
		Keyword: c.Query("keyword"),
		Domain:  domain,
	})
	if err != nil {
		s.log.Error("error listing articles", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	articles := res.Articles
	if articles == nil {
		articles = []*article.Article{}
	}
	c.JSON(http.StatusOK, ArticlesResponse{Articles: articles, Page: res.Page, Pages: res.Pages})
}

// domainLabel maps a domain filter onto the label stored with articles.
// An empty filter matches every domain.
func domainLabel(q string) (string, bool) {
	if q == "" {
		return "", true
	}
	for _, l := range classify.Labels() {
		if strings.EqualFold(l, q) {
			return l, true
		}
	}
	return "", false
}

func (s *Server) listPending(c *gin.Context) {
	status := article.Status(c.DefaultQuery("status", string(article.StatusQueued)))
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}

	list, err := s.store.ListByStatus(c.Request.Context(), status, pendingLimit)
	if err != nil {
		s.log.Error("error listing pending articles", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if list == nil {
		list = []*article.Article{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getArticle(c *gin.Context) {
	a, err := s.store.GetBySlug(c.Request.Context(), c.Param("slug"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Article not found"})
		return
	}
	if err != nil {
		s.log.Error("error fetching article", "slug", c.Param("slug"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) updateStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid article id"})
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	a, err := s.store.SetStatus(c.Request.Context(), id, article.Status(req.Status))
	switch {
	case errors.Is(err, storage.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Article not found"})
	case errors.Is(err, storage.ErrQueued):
		c.JSON(http.StatusConflict, gin.H{"error": "Article has not been generated yet"})
	case errors.Is(err, storage.ErrDeadLettered):
		c.JSON(http.StatusConflict, gin.H{"error": "Article failed generation"})
	case err != nil:
		s.log.Error("error updating status", "article_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
	default:
		s.log.Info("article status changed", "article_id", id, "status", a.Status)
		c.JSON(http.StatusOK, a)
	}
}

func (s *Server) feed(c *gin.Context) {
	res, err := s.store.ListPublished(c.Request.Context(), storage.ListQuery{Page: 1})
	if err != nil {
		s.log.Error("error building feed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	f := &feeds.Feed{
		Title:       "TechFeed",
		Link:        &feeds.Link{Href: s.opts.SiteURL},
		Description: "Generated technology articles",
		Created:     time.Now(),
	}
	for _, a := range res.Articles {
		f.Items = append(f.Items, &feeds.Item{
			Title:       a.Title,
			Link:        &feeds.Link{Href: s.opts.SiteURL + "/article/" + a.Slug},
			Description: a.Summary,
			Author:      &feeds.Author{Name: a.Source},
			Created:     a.PublishedAt,
			Id:          a.Slug,
		})
	}

	rss, err := f.ToRss()
	if err != nil {
		s.log.Error("error rendering feed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Feed error"})
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}

func (s *Server) health(c *gin.Context) {
	stats := s.metrics.GetStats()

	status, code := "ok", http.StatusOK
	if !stats["is_healthy"].(bool) {
		status, code = "error", http.StatusServiceUnavailable
	}

	database := "connected"
	if err := s.store.Ping(c.Request.Context()); err != nil {
		status, code, database = "error", http.StatusServiceUnavailable, "disconnected"
	}

	c.JSON(code, gin.H{
		"status":       status,
		"database":     database,
		"last_harvest": stats["last_harvest_time"],
		"last_drain":   stats["last_drain_time"],
		"last_error":   stats["last_error"],
	})
}

func (s *Server) stats(c *gin.Context) {
	stats := s.metrics.GetStats()

	queue, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.log.Warn("error reading queue stats", "error", err)
	} else {
		stats["articles"] = queue
	}
	if s.opts.Budget != nil {
		stats["generation_budget"] = s.opts.Budget.GetStats()
	}
	c.JSON(http.StatusOK, stats)
}
