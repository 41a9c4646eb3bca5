package export

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/vectorprint/pkg/cache"
	"github.com/matzehuels/vectorprint/pkg/catalog"
	"github.com/matzehuels/vectorprint/pkg/errors"
	"github.com/matzehuels/vectorprint/pkg/ledger"
	"github.com/matzehuels/vectorprint/pkg/observability"
	"github.com/matzehuels/vectorprint/pkg/raster"
	"github.com/matzehuels/vectorprint/pkg/sizing"
	"github.com/matzehuels/vectorprint/pkg/svgdoc"
)

// Runner executes exports. It is safe for concurrent use; the ledger store
// is the only shared mutable state.
type Runner struct {
	Catalog catalog.Catalog
	Ledger  *ledger.Ledger
	Cache   cache.Cache
	Keyer   cache.Keyer
	Logger  *log.Logger

	// Hooks receive stage events. Defaults to observability.Export().
	Hooks observability.ExportHooks

	// CacheHooks receive artifact cache events. Defaults to
	// observability.Cache().
	CacheHooks observability.CacheHooks

	opts   Options
	sem    *semaphore.Weighted
	flight singleflight.Group
}

// NewRunner creates a runner over cat and l with caching disabled and a
// discard logger. Set Cache, Keyer and Logger before the first export to
// change them.
func NewRunner(cat catalog.Catalog, l *ledger.Ledger, opts Options) *Runner {
	opts.setDefaults()
	return &Runner{
		Catalog:    cat,
		Ledger:     l,
		Cache:      cache.NewNullCache(),
		Keyer:      cache.NewDefaultKeyer(),
		Logger:     log.New(io.Discard),
		Hooks:      observability.Export(),
		CacheHooks: observability.Cache(),
		opts:       opts,
		sem:        semaphore.NewWeighted(int64(opts.MaxConcurrentRenders)),
	}
}

// Options returns the runner's options with defaults applied.
func (r *Runner) Options() Options { return r.opts }

// Export runs the full pipeline for req.
func (r *Runner) Export(ctx context.Context, req Request) (*Artifact, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	logger := r.Logger.With("product", req.ProductID, "format", req.Format)
	start := time.Now()

	if r.opts.Precheck {
		if err := r.precheck(ctx, req); err != nil {
			logger.Debug("precheck denied export", "err", err)
			return nil, err
		}
	}

	var src string
	err := r.stage(ctx, observability.StageLoaded, req.ProductID, func() error {
		var err error
		src, err = r.Catalog.FetchBaseDocument(ctx, req.ProductID)
		if stderrors.Is(err, catalog.ErrNotFound) {
			return errors.Wrap(errors.ErrCodeNotFound, err, "no base document for %s", req.ProductID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	var styled *svgdoc.Document
	err = r.stage(ctx, observability.StageStyled, req.ProductID, func() error {
		var err error
		styled, err = styleSource(src, req.Style)
		return err
	})
	if err != nil {
		return nil, err
	}

	var art *Artifact
	if req.Format.IsRaster() {
		var target sizing.Target
		_ = r.stage(ctx, observability.StageSized, req.ProductID, func() error {
			target = sizing.Resolve(styled, req.Size)
			return nil
		})
		err = r.stage(ctx, observability.StageRendered, req.ProductID, func() error {
			data, hit, err := r.render(ctx, req, cache.Hash([]byte(src)), styled, target)
			if err != nil {
				return err
			}
			art = rasterArtifact(req.ProductID, req.Format, target, data)
			art.CacheHit = hit
			return nil
		})
	} else {
		err = r.stage(ctx, observability.StageRendered, req.ProductID, func() error {
			art = vectorArtifact(req.ProductID, styled)
			return nil
		})
	}
	if err != nil {
		return nil, err
	}
	r.Hooks.OnRendered(ctx, req.ProductID, string(req.Format), len(art.Data))

	// Nothing has been written yet; an abandoned request stops here.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err = r.stage(ctx, observability.StageMetered, req.ProductID, func() error {
		out, err := r.Ledger.ConsumeOne(ctx, ledger.ConsumeRequest{
			Identity:       req.Identity,
			ProductID:      req.ProductID,
			IdempotencyKey: req.IdempotencyKey,
			Format:         string(req.Format),
			Width:          art.Target.Width,
			Height:         art.Target.Height,
			Extras:         req.Extras,
		})
		if err != nil {
			return err
		}
		r.Hooks.OnMetered(ctx, req.ProductID, string(out.Status), string(out.Reason))
		if out.Status == ledger.StatusDenied {
			return errors.QuotaDenied(string(out.Reason))
		}
		art.Outcome = out
		return nil
	})
	if err != nil {
		if errors.Is(err, errors.ErrCodeQuotaDenied) {
			logger.Info("export denied after render", "reason", errors.UserMessage(err))
		}
		return nil, err
	}

	_ = r.stage(ctx, observability.StageDelivered, req.ProductID, func() error { return nil })
	logger.Info("exported artifact",
		"status", art.Outcome.Status,
		"width", art.Target.Width,
		"height", art.Target.Height,
		"bytes", len(art.Data),
		"cache_hit", art.CacheHit,
		"duration", time.Since(start))
	return art, nil
}

// Summarize reports the identity's credits for productID.
func (r *Runner) Summarize(ctx context.Context, identity ledger.Identity, productID string) (ledger.Summary, error) {
	if err := errors.ValidateProductID(productID); err != nil {
		return ledger.Summary{}, err
	}
	return r.Ledger.Summarize(ctx, identity, productID)
}

// Close releases the artifact cache.
func (r *Runner) Close() error {
	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}

func (r *Runner) stage(ctx context.Context, stage, productID string, fn func() error) error {
	r.Hooks.OnStageStart(ctx, stage, productID)
	start := time.Now()
	err := fn()
	r.Hooks.OnStageComplete(ctx, stage, productID, time.Since(start), err)
	return err
}

func (r *Runner) precheck(ctx context.Context, req Request) error {
	sum, err := r.Ledger.Summarize(ctx, req.Identity, req.ProductID)
	if err != nil {
		return err
	}
	switch {
	case sum.Quota == 0:
		return errors.QuotaDenied(string(ledger.ReasonNoEntitlement))
	case sum.Remaining == 0:
		return errors.QuotaDenied(string(ledger.ReasonNoCredits))
	}
	return nil
}

// render returns the artifact bytes from the cache or the rasterizer.
// Concurrent requests for the same artifact share one rasterization, which
// runs detached from any single caller's cancellation so it can still fill
// the cache.
func (r *Runner) render(ctx context.Context, req Request, docHash string, doc *svgdoc.Document, target sizing.Target) ([]byte, bool, error) {
	key := r.Keyer.ArtifactKey(req.ProductID, cache.ArtifactKeyOpts{
		DocumentHash:    docHash,
		StyleHash:       styleHash(req.Style),
		Format:          string(req.Format),
		Width:           target.Width,
		Height:          target.Height,
		SourceDPI:       r.opts.SourceDPI,
		MaxSourcePixels: r.opts.MaxSourcePixels,
	})

	if data, hit, err := r.Cache.Get(ctx, key); err != nil {
		r.Logger.Warn("artifact cache read failed", "err", err)
	} else if hit {
		r.CacheHooks.OnCacheHit(ctx, key)
		return data, true, nil
	}
	r.CacheHooks.OnCacheMiss(ctx, key)

	detached := context.WithoutCancel(ctx)
	ch := r.flight.DoChan(key, func() (any, error) {
		if err := r.sem.Acquire(detached, 1); err != nil {
			return nil, err
		}
		defer r.sem.Release(1)

		data, err := raster.Render(doc, req.Format, target, r.opts.rasterOptions(Background(req.Style))...)
		if err != nil {
			return nil, err
		}
		if err := r.Cache.Set(detached, key, data, r.opts.CacheTTL); err != nil {
			r.Logger.Warn("artifact cache write failed", "err", err)
		} else {
			r.CacheHooks.OnCacheSet(detached, key, len(data))
		}
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]byte), false, nil
	}
}
