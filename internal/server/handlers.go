package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/qq148376839/video-parser-service/pkg/cache"
	"github.com/qq148376839/video-parser-service/pkg/catalog"
	"github.com/qq148376839/video-parser-service/pkg/search"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ac := q.Get("ac")
	if ac != "" && ac != "videolist" {
		http.Error(w, "unsupported ac value", http.StatusBadRequest)
		return
	}
	res, err := s.Search.Search(r.Context(), q.Get("wd"))
	if errors.Is(err, search.ErrEmptyQuery) {
		http.Error(w, "missing wd parameter", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if ac == "videolist" {
		// Catalog-protocol callers get the upstream response shape back,
		// with play URLs swapped for the resolved streams.
		json.NewEncoder(w).Encode(toVideoList(res.Items))
		return
	}
	json.NewEncoder(w).Encode(res)
}

type videoListResponse struct {
	Code int       `json:"code"`
	List []vodItem `json:"list"`
}

type vodItem struct {
	VodID      string `json:"vod_id"`
	VodName    string `json:"vod_name"`
	TypeName   string `json:"type_name,omitempty"`
	VodYear    string `json:"vod_year,omitempty"`
	VodPic     string `json:"vod_pic,omitempty"`
	VodContent string `json:"vod_content,omitempty"`
	VodPlayURL string `json:"vod_play_url"`
	Source     string `json:"source"`
}

func toVideoList(items []cache.ResolvedItem) videoListResponse {
	resp := videoListResponse{List: []vodItem{}}
	for _, it := range items {
		eps := make([]catalog.Episode, 0, len(it.Episodes))
		for _, ep := range it.Episodes {
			eps = append(eps, catalog.Episode{Label: ep.Label, RawURL: ep.Stream.FinalURL})
		}
		resp.List = append(resp.List, vodItem{
			VodID:      it.Item.ID,
			VodName:    it.Item.Title,
			TypeName:   it.Item.TypeName,
			VodYear:    it.Item.Year,
			VodPic:     it.Item.Pic,
			VodContent: it.Item.Description,
			VodPlayURL: catalog.FormatManifest("", eps),
			Source:     it.Item.SourceKey,
		})
	}
	if len(resp.List) > 0 {
		resp.Code = 1
	}
	return resp
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	stream, ok := s.Search.Resolve(r.Context(), rawURL)
	if !ok {
		http.Error(w, "could not resolve url", http.StatusBadGateway)
		return
	}
	json.NewEncoder(w).Encode(stream)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Cache.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(stats)
}

type clearRequest struct {
	Key string `json:"key"`
	// ExpiredOnly sweeps entries past their TTL instead of targeting a
	// key.
	ExpiredOnly bool `json:"expired_only"`
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ExpiredOnly {
		n, err := s.Cache.ClearExpired(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]int64{"removed": n})
		return
	}
	if req.Key == "" {
		http.Error(w, "key required unless expired_only is set", http.StatusBadRequest)
		return
	}
	if err := s.Cache.Clear(r.Context(), req.Key); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if s.Artifacts == nil {
		http.NotFound(w, r)
		return
	}
	body, err := s.Artifacts.Get(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Write([]byte(body))
}

type healthResponse struct {
	Status            string `json:"status"`
	CredentialsActive int    `json:"credentials_active,omitempty"`
	ParamAgeSeconds   *int64 `json:"param_age_seconds,omitempty"`
}

// handleHealth reports degraded rather than failing when the credential
// pool is empty and no signing parameter is loaded: the decrypt strategy
// still works without either.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	paramLoaded := false
	if s.Param != nil {
		if age, ok := s.Param.Age(); ok {
			secs := int64(age / time.Second)
			resp.ParamAgeSeconds = &secs
			paramLoaded = true
		}
	}
	if s.Creds != nil {
		stats, err := s.Creds.PoolStats(r.Context())
		if err == nil {
			resp.CredentialsActive = stats.Active
			if stats.Active == 0 && !paramLoaded {
				resp.Status = "degraded"
			}
		}
	}
	json.NewEncoder(w).Encode(resp)
}
