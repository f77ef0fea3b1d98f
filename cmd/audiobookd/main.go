package main

import (
	"context"
	"encoding/base64"
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gaby/audiobookd/internal/api"
	"github.com/gaby/audiobookd/internal/cache"
	"github.com/gaby/audiobookd/internal/config"
	"github.com/gaby/audiobookd/internal/db"
	"github.com/gaby/audiobookd/internal/library"
	"github.com/gaby/audiobookd/internal/merge"
	"github.com/gaby/audiobookd/internal/metadata"
	"github.com/gaby/audiobookd/internal/plugin"
	"github.com/gaby/audiobookd/internal/runner"
	"github.com/gaby/audiobookd/internal/scanner"
	"github.com/gaby/audiobookd/internal/scraper"
	"github.com/gaby/audiobookd/internal/storage"
	"github.com/gaby/audiobookd/internal/stream"
	"github.com/gaby/audiobookd/internal/tasks"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "/config/config.json", "path to config file (json)")
	flag.Parse()

	if err := config.EnsureConfigFile(cfgPath); err != nil {
		log.Fatalf("config bootstrap: %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validate: %v", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "audiobookd.db")
	d, err := db.Open(dbPath)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer d.Close()

	books := library.NewStore(d)
	taskStore := tasks.NewStore(d)
	cryptoKey := resolveCryptoKey(cfg.Crypto.KeyEnv)

	// Plugin descriptors (decoders/scrapers) are loaded and spawned by a
	// host-specific process supervisor outside this spec's scope (spec.md
	// §4.14 "External Collaborators"); the gateway starts empty and is
	// ready to be handed real descriptors by whatever wires that up.
	plugins := plugin.NewGateway(nil)

	metaExtractor := metadata.NewExtractor(plugins)
	scraperOrch := scraper.NewOrchestrator(plugins)
	mergeEngine := merge.NewEngine(books)
	st := storage.New()

	pipeline := scanner.NewPipeline(st, books, metaExtractor, scraperOrch, plugins, taskStore, mergeEngine, cfg.Scraper, cfg.Scan.MaxConcurrent, cryptoKey)
	r := runner.New(taskStore, books, pipeline, cfg.Scan.MaxConcurrent)

	diskCache := cache.NewDisk(cfg.Paths.CacheDir)
	preloadCache := cache.NewPreload()
	engine := &stream.Engine{Storage: st, Plugins: plugins, Disk: diskCache, Preload: preloadCache}
	prefetcher := &stream.Prefetcher{Storage: *engine}

	seedConfiguredLibraries(context.Background(), books, cfg)

	srv := api.New(cfg, api.Deps{
		Books:     books,
		Tasks:     taskStore,
		Stream:    engine,
		Prefetch:  prefetcher,
		Disk:      diskCache,
		CryptoKey: cryptoKey,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	log.Printf("audiobookd listening on %s", cfg.Server.Addr)
	if err := http.ListenAndServe(cfg.Server.Addr, srv.Handler()); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// resolveCryptoKey reads the 32-byte AES key from the environment
// variable cfg.Crypto.KeyEnv names. Accepts either raw 32-byte content
// or standard base64 (so the key can live in an env file without control
// characters). A missing or malformed key degrades gracefully:
// crypto.ResolvePassword falls back to treating stored values as
// plaintext rather than failing closed, so WebDAV libraries configured
// without a key simply can't have encrypted passwords.
func resolveCryptoKey(envVar string) []byte {
	raw := os.Getenv(envVar)
	if raw == "" {
		log.Printf("audiobookd: %s not set; WebDAV library passwords will not be encrypted at rest", envVar)
		return nil
	}
	if len(raw) == 32 {
		return []byte(raw)
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == 32 {
		return decoded
	}
	log.Printf("audiobookd: %s must decode to exactly 32 bytes; ignoring", envVar)
	return nil
}

// seedConfiguredLibraries inserts any config.Libraries bootstrap entries
// that aren't already present, keyed by name — library CRUD beyond this
// bootstrap belongs to the out-of-scope REST/auth layer (spec.md §1).
func seedConfiguredLibraries(ctx context.Context, books *library.Store, cfg config.Config) {
	existing, err := books.ListLibraries(ctx)
	if err != nil {
		log.Printf("audiobookd: list libraries during seed: %v", err)
		return
	}
	seen := make(map[string]bool, len(existing))
	for _, l := range existing {
		seen[l.Name] = true
	}
	for _, seed := range cfg.Libraries {
		if seen[seed.Name] {
			continue
		}
		if err := insertSeedLibrary(ctx, books, seed); err != nil {
			log.Printf("audiobookd: seed library %q: %v", seed.Name, err)
		}
	}
}

func insertSeedLibrary(ctx context.Context, books *library.Store, seed config.LibrarySeed) error {
	kind := library.KindLocal
	if seed.Kind == "webdav" {
		kind = library.KindWebDAV
	}
	root := seed.LocalPath
	if kind == library.KindWebDAV {
		root = seed.WebDAVURL
	}
	_, err := books.DB().SQL.ExecContext(ctx,
		`INSERT INTO libraries(name,kind,local_path,webdav_url,root_path) VALUES(?,?,?,?,?)`,
		seed.Name, string(kind), seed.LocalPath, seed.WebDAVURL, root)
	return err
}
