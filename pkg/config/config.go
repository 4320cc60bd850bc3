// Package config turns the viper-backed configuration file into an
// immutable snapshot that the rest of the service takes by value. Only
// the cmd layer talks to viper; everything below gets a Config.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/qq148376839/video-parser-service/pkg/catalog"
)

type Config struct {
	DBPath       string
	ArtifactsDir string

	Sources       []catalog.Source
	DenylistTerms []string

	SearchConnectTimeout time.Duration
	SearchTotalTimeout   time.Duration
	SearchConcurrency    int
	ResolveConcurrency   int
	ResolverRetries      int
	ResolveTimeout       time.Duration
	CacheTTL             time.Duration
	ParamTTL             time.Duration

	CredentialAPI   string
	ParameterAPI    string
	ParameterSource string
	ParserPage      string

	ServerAddr     string
	ServerUsername string
	ServerPassword string
}

// SetDefaults registers every known key so a first run writes a complete
// config file skeleton.
func SetDefaults() {
	viper.SetDefault("db.path", "")
	viper.SetDefault("artifacts.dir", "")

	viper.SetDefault("search.connect_timeout_ms", 3000)
	viper.SetDefault("search.total_timeout_ms", 5000)
	viper.SetDefault("search.concurrency", 10)
	viper.SetDefault("search.denylist", []string{"伦理"})

	viper.SetDefault("resolve.concurrency", 6)
	viper.SetDefault("resolve.retries", 2)
	viper.SetDefault("resolve.timeout_ms", 20000)

	viper.SetDefault("cache.ttl_seconds", 7200)
	viper.SetDefault("param.ttl_seconds", 7200)

	viper.SetDefault("endpoints.credential_api", "")
	viper.SetDefault("endpoints.parameter_api", "")
	viper.SetDefault("endpoints.parameter_source", "")
	viper.SetDefault("endpoints.parser_page", "")

	viper.SetDefault("server.addr", "127.0.0.1:8080")
	viper.SetDefault("server.username", "")
	viper.SetDefault("server.password", "")

	viper.SetDefault("sources", []map[string]any{})
}

// Load builds a snapshot from the current viper state.
func Load() (Config, error) {
	cfg := Config{
		DBPath:       viper.GetString("db.path"),
		ArtifactsDir: viper.GetString("artifacts.dir"),

		DenylistTerms: viper.GetStringSlice("search.denylist"),

		SearchConnectTimeout: time.Duration(viper.GetInt("search.connect_timeout_ms")) * time.Millisecond,
		SearchTotalTimeout:   time.Duration(viper.GetInt("search.total_timeout_ms")) * time.Millisecond,
		SearchConcurrency:    viper.GetInt("search.concurrency"),
		ResolveConcurrency:   viper.GetInt("resolve.concurrency"),
		ResolverRetries:      viper.GetInt("resolve.retries"),
		ResolveTimeout:       time.Duration(viper.GetInt("resolve.timeout_ms")) * time.Millisecond,
		CacheTTL:             time.Duration(viper.GetInt("cache.ttl_seconds")) * time.Second,
		ParamTTL:             time.Duration(viper.GetInt("param.ttl_seconds")) * time.Second,

		CredentialAPI:   viper.GetString("endpoints.credential_api"),
		ParameterAPI:    viper.GetString("endpoints.parameter_api"),
		ParameterSource: viper.GetString("endpoints.parameter_source"),
		ParserPage:      viper.GetString("endpoints.parser_page"),

		ServerAddr:     viper.GetString("server.addr"),
		ServerUsername: viper.GetString("server.username"),
		ServerPassword: viper.GetString("server.password"),
	}

	var rawSources []struct {
		Key     string `mapstructure:"key"`
		Name    string `mapstructure:"name"`
		BaseURL string `mapstructure:"base_url"`
		Rank    int    `mapstructure:"rank"`
	}
	if err := viper.UnmarshalKey("sources", &rawSources); err != nil {
		return Config{}, fmt.Errorf("parse sources: %w", err)
	}
	for _, s := range rawSources {
		if s.Key == "" || s.BaseURL == "" {
			return Config{}, fmt.Errorf("source entry needs key and base_url, got %+v", s)
		}
		cfg.Sources = append(cfg.Sources, catalog.Source{
			Key:     s.Key,
			Name:    s.Name,
			BaseURL: s.BaseURL,
			Rank:    s.Rank,
		})
	}
	return cfg, nil
}
