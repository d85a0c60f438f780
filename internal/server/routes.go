package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Feed routes
	mux.HandleFunc("/news/top", s.app.NewsHandler.TopNewsHandler) // GET - ranked feed
	mux.HandleFunc("/news/", s.handleNewsRoutes)                  // GET /{id}, POST /{id}/click

	// User preference routes
	mux.HandleFunc("/users/", s.handleUserRoutes) // GET/PUT /{userId}/preferences

	// Bandit routes
	mux.HandleFunc("/bandit/recommendations", s.app.BanditHandler.RecommendationsHandler) // GET - arm-selected feed
	mux.HandleFunc("/bandit/reward", s.app.BanditHandler.RewardHandler)                   // POST - explicit reward
	mux.HandleFunc("/bandit/click", s.app.BanditHandler.ClickRewardHandler)               // POST - click reward shortcut
	mux.HandleFunc("/bandit/engagement", s.app.BanditHandler.EngagementRewardHandler)     // POST - engagement reward
	mux.HandleFunc("/bandit/performance", s.app.BanditHandler.PerformanceHandler)         // GET - per-arm statistics

	// Admin routes - manual pipeline runs
	mux.HandleFunc("/admin/ingest", s.app.AdminHandler.IngestHandler)          // POST - run ingestion now
	mux.HandleFunc("/admin/clustering", s.app.AdminHandler.ClusteringHandler)  // POST - run configured clustering
	mux.HandleFunc("/admin/clustering/", s.app.AdminHandler.ClusteringHandler) // POST /hdbscan, /kmeans, /optimize

	// Admin routes - source catalog
	mux.HandleFunc("/admin/sources", s.handleSourcesRoute)  // GET (list), POST (create)
	mux.HandleFunc("/admin/sources/", s.handleSourceRoutes) // GET/PUT/DELETE /{name}

	// Observability routes
	mux.HandleFunc("/healthz", s.app.HealthHandler.HealthzHandler)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// handleNewsRoutes dispatches /news/{id} and /news/{id}/click
func (s *Server) handleNewsRoutes(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/click") {
		s.app.NewsHandler.ClickHandler(w, r)
		return
	}
	s.app.NewsHandler.GetNewsHandler(w, r)
}

// handleUserRoutes dispatches /users/{userId}/preferences
func (s *Server) handleUserRoutes(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/preferences") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	RouteByMethod(w, r, MethodRouter{
		"GET": s.app.UsersHandler.GetPreferencesHandler,
		"PUT": s.app.UsersHandler.PutPreferencesHandler,
	})
}

// handleSourcesRoute dispatches /admin/sources (collection operations)
func (s *Server) handleSourcesRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r,
		s.app.SourcesHandler.ListSourcesHandler,
		s.app.SourcesHandler.CreateSourceHandler,
	)
}

// handleSourceRoutes dispatches /admin/sources/{name} (item operations)
func (s *Server) handleSourceRoutes(w http.ResponseWriter, r *http.Request) {
	RouteResourceItem(w, r,
		s.app.SourcesHandler.GetSourceHandler,
		s.app.SourcesHandler.UpdateSourceHandler,
		s.app.SourcesHandler.DeleteSourceHandler,
	)
}
