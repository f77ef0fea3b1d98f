// Package config mirrors the teacher's internal/config package: a
// nested-section Config struct, a safe Default(), JSON on-disk
// persistence, and a Validate() that fails fast on unusable values.
// Generalized from NZB/upload/watch sections to the audiobook-domain
// sections SPEC_FULL.md §10.3 calls for.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Paths struct {
	DataDir string `json:"data_dir"`
	CacheDir string `json:"cache_dir"`
	PluginDir string `json:"plugin_dir"`
}

type Server struct {
	Addr string `json:"addr"`
}

type Cache struct {
	MaxFiles     int   `json:"max_files"`
	MaxDiskBytes int64 `json:"max_disk_bytes"`
}

type Scan struct {
	MaxConcurrent int `json:"max_concurrent_tasks"`
}

type Crypto struct {
	// KeyEnv names the environment variable holding the 32-byte process
	// key used to encrypt/decrypt library passwords (spec.md §6).
	KeyEnv string `json:"key_env"`
}

type ScraperDefaults struct {
	DefaultSources []string          `json:"default_sources"`
	FieldSources   map[string]string `json:"field_sources,omitempty"`
	CacheTTLSecs   int               `json:"cache_ttl_secs"`
	CacheMaxSize   int               `json:"cache_max_size"`
}

// LibrarySeed is a bootstrap-time library definition; once running,
// library CRUD belongs to the out-of-scope REST layer (spec.md §1).
type LibrarySeed struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"` // "local" | "webdav"
	LocalPath string `json:"local_path,omitempty"`
	WebDAVURL string `json:"webdav_url,omitempty"`
}

type Config struct {
	Paths    Paths           `json:"paths"`
	Server   Server          `json:"server"`
	Cache    Cache           `json:"cache"`
	Scan     Scan            `json:"scan"`
	Crypto   Crypto          `json:"crypto"`
	Scraper  ScraperDefaults `json:"scraper"`
	Libraries []LibrarySeed  `json:"libraries"`
}

func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   "/config",
			CacheDir:  "/cache",
			PluginDir: "/plugins",
		},
		Server: Server{Addr: ":8080"},
		Cache: Cache{
			MaxFiles:     50,
			MaxDiskBytes: 20 * 1024 * 1024 * 1024,
		},
		Scan: Scan{MaxConcurrent: 4},
		Crypto: Crypto{KeyEnv: "AUDIOBOOKD_CRYPTO_KEY"},
		Scraper: ScraperDefaults{
			DefaultSources: []string{},
			CacheTTLSecs:   300,
			CacheMaxSize:   100,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr required")
	}
	if c.Paths.DataDir == "" || c.Paths.CacheDir == "" {
		return fmt.Errorf("config: paths.data_dir and paths.cache_dir required")
	}
	if c.Cache.MaxFiles <= 0 {
		return fmt.Errorf("config: cache.max_files must be positive")
	}
	if c.Scan.MaxConcurrent <= 0 {
		return fmt.Errorf("config: scan.max_concurrent_tasks must be positive")
	}
	for i, l := range c.Libraries {
		switch l.Kind {
		case "local":
			if l.LocalPath == "" {
				return fmt.Errorf("config: libraries[%d]: local_path required for kind=local", i)
			}
		case "webdav":
			if l.WebDAVURL == "" {
				return fmt.Errorf("config: libraries[%d]: webdav_url required for kind=webdav", i)
			}
		default:
			return fmt.Errorf("config: libraries[%d]: unknown kind %q", i, l.Kind)
		}
	}
	return nil
}
