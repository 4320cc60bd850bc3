package server

import (
	"net/http"

	"github.com/qq148376839/video-parser-service/internal/utils"
	"github.com/qq148376839/video-parser-service/pkg/artifacts"
	"github.com/qq148376839/video-parser-service/pkg/cache"
	"github.com/qq148376839/video-parser-service/pkg/credstore"
	"github.com/qq148376839/video-parser-service/pkg/resolver"
	"github.com/qq148376839/video-parser-service/pkg/search"
)

type Server struct {
	Search    *search.Service
	Cache     *cache.Cache
	Creds     *credstore.Store
	Artifacts *artifacts.Store
	// Param reports the shared signing parameter's age on /health. May
	// be nil when the parameter strategy is not configured.
	Param    *resolver.ParameterResolver
	Username string
	Password string
}

func New(svc *search.Service, c *cache.Cache, creds *credstore.Store, art *artifacts.Store, param *resolver.ParameterResolver, user, pass string) *Server {
	return &Server{
		Search:    svc,
		Cache:     c,
		Creds:     creds,
		Artifacts: art,
		Param:     param,
		Username:  user,
		Password:  pass,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/search", s.basicAuth(s.handleSearch))
	mux.HandleFunc("GET /api/v1/parse", s.basicAuth(s.handleParse))
	mux.HandleFunc("GET /api/v1/cache/stats", s.basicAuth(s.handleCacheStats))
	mux.HandleFunc("POST /api/v1/cache/clear", s.basicAuth(s.handleCacheClear))

	// Playback endpoints stay unauthenticated: players fetch them.
	mux.HandleFunc("GET /m3u8/{id}", s.handleArtifact)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

func (s *Server) Start(addr string) error {
	utils.Log.Infof("Starting server on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Username == "" && s.Password == "" {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
