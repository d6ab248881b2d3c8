package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/docdex/docdex/internal/catalog"
	"github.com/docdex/docdex/internal/config"
	"github.com/docdex/docdex/internal/embed"
	derr "github.com/docdex/docdex/internal/errors"
	"github.com/docdex/docdex/internal/extract"
	"github.com/docdex/docdex/internal/guard"
	"github.com/docdex/docdex/internal/index"
	"github.com/docdex/docdex/internal/logging"
	"github.com/docdex/docdex/internal/scanner"
	"github.com/docdex/docdex/internal/store"
)

// timeRound trims sub-millisecond noise from durations shown to the user.
const timeRound = 10 * time.Millisecond

// runtime holds the opened stores and collaborators for one command
// invocation. Writers additionally hold the exclusive lease.
type runtime struct {
	cfg      *config.Config
	cat      *catalog.Store
	text     *store.TextIndex
	vectors  *store.VectorStore
	embedder embed.Embedder
	guard    *guard.Guard

	cleanups []func()
}

// openRuntime loads configuration, sets up logging and opens the stores.
// writer acquires the exclusive writer lease; read-only commands share the
// stores freely.
func openRuntime(writer bool) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir %s: %w", cfg.StateDir, err)
	}

	logCfg := logging.DefaultConfig(cfg.StateDir)
	logCfg.Level = cfg.Logging.Level
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxFiles = cfg.Logging.MaxFiles
	if debugMode {
		logCfg.Level = "debug"
	}
	logCfg.WriteToStderr = debugMode
	logCleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, cleanups: []func(){logCleanup}}

	if writer {
		g := guard.New(cfg.LeasePath(),
			cfg.Guard.RenewInterval.Std(), cfg.Guard.StaleAfter.Std())
		if err := g.Acquire(); err != nil {
			rt.close()
			return nil, err
		}
		rt.guard = g
		rt.cleanups = append(rt.cleanups, func() { _ = g.Release() })
	}

	cat, err := catalog.Open(cfg.CatalogPath())
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.cat = cat
	rt.cleanups = append(rt.cleanups, func() { _ = cat.Close() })

	text, err := store.OpenTextIndex(cfg.IndexDir())
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.text = text
	rt.cleanups = append(rt.cleanups, func() { _ = text.Close() })

	embedder, err := embed.NewFromConfig(cfg.Embeddings)
	if err != nil {
		rt.close()
		return nil, err
	}
	if embedder != nil {
		rt.embedder = embedder
		rt.cleanups = append(rt.cleanups, func() { _ = embedder.Close() })

		vectors, err := store.OpenVectorStore(cfg.VectorsPath(),
			embedder.ModelName(), embedder.Dimensions())
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.vectors = vectors
		rt.cleanups = append(rt.cleanups, func() { _ = vectors.Close() })
	}

	return rt, nil
}

// newRunner builds the index runner over the runtime's stores. Requires at
// least one configured root.
func (rt *runtime) newRunner() (*index.Runner, error) {
	if len(rt.cfg.Roots.Paths) == 0 {
		return nil, derr.ConfigError("no roots configured; set roots.paths or DOCDEX_ROOTS", nil)
	}

	sc, err := scanner.New(scanner.Options{
		Roots:          rt.cfg.Roots.Paths,
		Include:        rt.cfg.Roots.Include,
		Exclude:        rt.cfg.Roots.Exclude,
		MaxFileSize:    rt.cfg.Roots.MaxFileSize,
		FollowSymlinks: rt.cfg.Roots.FollowSymlinks,
		IncludeHidden:  rt.cfg.Roots.IncludeHidden,
	})
	if err != nil {
		return nil, err
	}

	extractor := extract.NewService(rt.cfg.Extraction)
	rt.cleanups = append(rt.cleanups, extractor.Close)

	return index.NewRunner(index.Deps{
		Catalog:   rt.cat,
		Text:      rt.text,
		Vectors:   rt.vectors,
		Embedder:  rt.embedder,
		Extractor: extractor,
		Scanner:   sc,
		Config:    rt.cfg,
	})
}

// leaseHolder reports the current writer lease, nil when none is held.
func leaseHolder(rt *runtime) (*guard.Lease, error) {
	g := guard.New(rt.cfg.LeasePath(),
		rt.cfg.Guard.RenewInterval.Std(), rt.cfg.Guard.StaleAfter.Std())
	return g.Holder()
}

// close releases everything in reverse acquisition order.
func (rt *runtime) close() {
	for i := len(rt.cleanups) - 1; i >= 0; i-- {
		rt.cleanups[i]()
	}
	rt.cleanups = nil
}
