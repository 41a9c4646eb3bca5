package export_test

import (
	"bytes"
	"context"
	"image/png"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/vectorprint/pkg/cache"
	"github.com/matzehuels/vectorprint/pkg/catalog"
	"github.com/matzehuels/vectorprint/pkg/errors"
	"github.com/matzehuels/vectorprint/pkg/export"
	"github.com/matzehuels/vectorprint/pkg/ledger"
	"github.com/matzehuels/vectorprint/pkg/ledger/memory"
	"github.com/matzehuels/vectorprint/pkg/observability"
	"github.com/matzehuels/vectorprint/pkg/raster"
	"github.com/matzehuels/vectorprint/pkg/style"
)

const poster = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 512 512"><path d="M64 64 L448 64 L256 448 Z"/></svg>`

var alice = ledger.Identity{UserID: "alice"}

type event struct {
	kind  string
	stage string
	err   error
}

// recorder captures export hook events.
type recorder struct {
	observability.NoopExportHooks
	mu      sync.Mutex
	events  []event
	metered []string
}

func (r *recorder) OnStageStart(_ context.Context, stage, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: "start", stage: stage})
}

func (r *recorder) OnStageComplete(_ context.Context, stage, _ string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: "complete", stage: stage, err: err})
}

func (r *recorder) OnMetered(_ context.Context, _, status, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metered = append(r.metered, status+"/"+reason)
}

func (r *recorder) completed(stage string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.kind == "complete" && e.stage == stage {
			return true, e.err
		}
	}
	return false, nil
}

func (r *recorder) started(stage string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.kind == "start" && e.stage == stage {
			return true
		}
	}
	return false
}

type fixture struct {
	runner *export.Runner
	ledger *ledger.Ledger
	hooks  *recorder
}

func newFixture(t *testing.T, opts export.Options) *fixture {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })
	l := ledger.New(store, nil)
	r := export.NewRunner(catalog.NewMapCatalog(map[string]string{
		"poster": poster,
		"broken": `<svg viewBox="0 0 10 10"><path`,
	}), l, opts)
	hooks := &recorder{}
	r.Hooks = hooks
	return &fixture{runner: r, ledger: l, hooks: hooks}
}

func (f *fixture) grant(t *testing.T, quota int) {
	t.Helper()
	_, err := f.ledger.IssueGrant(context.Background(), ledger.Grant{
		Identity: alice, ProductID: "poster", Quota: quota,
	})
	require.NoError(t, err)
}

func (f *fixture) used(t *testing.T) int {
	t.Helper()
	sum, err := f.ledger.Summarize(context.Background(), alice, "poster")
	require.NoError(t, err)
	return sum.Used
}

func pngRequest(key string) export.Request {
	return export.Request{
		ProductID: "poster",
		Identity:  alice,
		Style: style.Payload{
			FillColor:       "#112233",
			StrokeColor:     "#000",
			StrokeWidth:     "2",
			BackgroundColor: "#fff",
		},
		Format:         raster.FormatPNG,
		IdempotencyKey: key,
	}
}

func TestExportPNGEndToEnd(t *testing.T) {
	f := newFixture(t, export.Options{SourceDPI: 96})
	f.grant(t, 3)

	art, err := f.runner.Export(context.Background(), pngRequest("order-1"))
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(art.Data))
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Width)
	assert.Equal(t, 512, cfg.Height)
	assert.Equal(t, 512, art.Target.Width)
	assert.Equal(t, 512, art.Target.Height)
	assert.Equal(t, "image/png", art.MediaType)
	assert.Equal(t, "poster-512x512.png", art.Filename)
	assert.Equal(t, ledger.StatusConsumed, art.Outcome.Status)
	require.NotNil(t, art.Outcome.Record)
	assert.Equal(t, "png", art.Outcome.Record.Format)
	assert.Equal(t, 512, art.Outcome.Record.Width)
	assert.Equal(t, 1, f.used(t))

	for _, stage := range []string{
		observability.StageLoaded, observability.StageStyled, observability.StageSized,
		observability.StageRendered, observability.StageMetered, observability.StageDelivered,
	} {
		ok, err := f.hooks.completed(stage)
		assert.True(t, ok, "stage %s not completed", stage)
		assert.NoError(t, err, "stage %s", stage)
	}
}

func TestExportDeniedAfterRender(t *testing.T) {
	f := newFixture(t, export.Options{SourceDPI: 96})
	f.grant(t, 1)
	_, err := f.ledger.ConsumeOne(context.Background(), ledger.ConsumeRequest{
		Identity: alice, ProductID: "poster", IdempotencyKey: "earlier",
	})
	require.NoError(t, err)

	art, err := f.runner.Export(context.Background(), pngRequest("order-2"))
	assert.Nil(t, art)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeQuotaDenied))
	assert.Contains(t, err.Error(), "no_credits")

	ok, renderErr := f.hooks.completed(observability.StageRendered)
	assert.True(t, ok, "render should have run before metering")
	assert.NoError(t, renderErr)
	assert.Equal(t, []string{"denied/no_credits"}, f.hooks.metered)
	assert.False(t, f.hooks.started(observability.StageDelivered))
	assert.Equal(t, 1, f.used(t))
}

func TestExportNoEntitlement(t *testing.T) {
	f := newFixture(t, export.Options{SourceDPI: 96})

	_, err := f.runner.Export(context.Background(), pngRequest("order-3"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeQuotaDenied))
	assert.Contains(t, err.Error(), "no_entitlement")
}

func TestExportRetryIsIdempotent(t *testing.T) {
	f := newFixture(t, export.Options{SourceDPI: 96})
	fc, err := cache.NewFileCache(t.TempDir())
	require.NoError(t, err)
	f.runner.Cache = fc
	f.grant(t, 3)

	first, err := f.runner.Export(context.Background(), pngRequest("order-4"))
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := f.runner.Export(context.Background(), pngRequest("order-4"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusAlreadyConsumed, second.Outcome.Status)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, first.Outcome.Record.ID, second.Outcome.Record.ID)
	assert.Equal(t, 1, f.used(t))

	// A cached artifact is still metered.
	third, err := f.runner.Export(context.Background(), pngRequest("order-5"))
	require.NoError(t, err)
	assert.True(t, third.CacheHit)
	assert.Equal(t, ledger.StatusConsumed, third.Outcome.Status)
	assert.Equal(t, 2, f.used(t))
}

func TestExportCacheKeyTracksSourceBudget(t *testing.T) {
	fc, err := cache.NewFileCache(t.TempDir())
	require.NoError(t, err)
	run := func(f *fixture, key string) *export.Artifact {
		t.Helper()
		f.runner.Cache = fc
		f.grant(t, 1)
		art, err := f.runner.Export(context.Background(), pngRequest(key))
		require.NoError(t, err)
		return art
	}

	small := newFixture(t, export.Options{SourceDPI: 96, MaxSourcePixels: 1 << 20})
	assert.False(t, run(small, "order-a").CacheHit)

	large := newFixture(t, export.Options{SourceDPI: 96, MaxSourcePixels: 1 << 22})
	assert.False(t, run(large, "order-b").CacheHit, "a different source budget must not reuse cached bytes")

	same := newFixture(t, export.Options{SourceDPI: 96, MaxSourcePixels: 1 << 20})
	assert.True(t, run(same, "order-c").CacheHit)
}

func TestExportRejectsKeyFromOtherIdentity(t *testing.T) {
	f := newFixture(t, export.Options{SourceDPI: 96})
	f.grant(t, 1)

	_, err := f.runner.Export(context.Background(), pngRequest("order-7"))
	require.NoError(t, err)

	// Mallory has no grants and reuses alice's spent key.
	req := pngRequest("order-7")
	req.Identity = ledger.Identity{UserID: "mallory"}
	art, err := f.runner.Export(context.Background(), req)
	assert.Nil(t, art)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput), "got %v", err)
	assert.Equal(t, 1, f.used(t))
}

func TestExportNotFound(t *testing.T) {
	f := newFixture(t, export.Options{})
	f.grant(t, 1)

	req := pngRequest("order-6")
	req.ProductID = "mug"
	_, err := f.runner.Export(context.Background(), req)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound), "err = %v", err)
	assert.False(t, f.hooks.started(observability.StageStyled))
	assert.Equal(t, 0, f.used(t))
}

func TestExportFailedRenderConsumesNothing(t *testing.T) {
	f := newFixture(t, export.Options{})
	_, err := f.ledger.IssueGrant(context.Background(), ledger.Grant{
		Identity: alice, ProductID: "broken", Quota: 1,
	})
	require.NoError(t, err)

	req := pngRequest("order-7")
	req.ProductID = "broken"
	_, err = f.runner.Export(context.Background(), req)
	assert.True(t, errors.Is(err, errors.ErrCodeRenderFailed), "err = %v", err)
	assert.False(t, f.hooks.started(observability.StageMetered))

	sum, err := f.ledger.Summarize(context.Background(), alice, "broken")
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Used)
}

func TestExportSVGPassthrough(t *testing.T) {
	f := newFixture(t, export.Options{})
	f.grant(t, 1)

	req := pngRequest("order-8")
	req.Format = "svg"
	art, err := f.runner.Export(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "image/svg+xml", art.MediaType)
	assert.Equal(t, "poster.svg", art.Filename)
	assert.Zero(t, art.Target)
	assert.Contains(t, string(art.Data), `data-watermark="true"`)
	assert.Contains(t, string(art.Data), `fill="#112233"`)
	assert.False(t, f.hooks.started(observability.StageSized))
	assert.Equal(t, 1, f.used(t))
}

func TestExportValidation(t *testing.T) {
	f := newFixture(t, export.Options{})
	f.grant(t, 1)

	tests := []struct {
		name   string
		mutate func(*export.Request)
		code   errors.Code
	}{
		{"no identity", func(r *export.Request) { r.Identity = ledger.Identity{} }, errors.ErrCodeInvalidInput},
		{"no key", func(r *export.Request) { r.IdempotencyKey = "" }, errors.ErrCodeInvalidInput},
		{"bad product", func(r *export.Request) { r.ProductID = "../etc" }, errors.ErrCodeInvalidInput},
		{"bad format", func(r *export.Request) { r.Format = "gif" }, errors.ErrCodeInvalidFormat},
		{"negative width", func(r *export.Request) { w := -1; r.Size.Width = &w }, errors.ErrCodeInvalidSize},
		{"nan opacity", func(r *export.Request) { nan := math.NaN(); r.Style.FillOpacity = &nan }, errors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := pngRequest("order-9")
			tt.mutate(&req)
			_, err := f.runner.Export(context.Background(), req)
			assert.True(t, errors.Is(err, tt.code), "err = %v, want %s", err, tt.code)
		})
	}
	assert.Equal(t, 0, f.used(t))
}

func TestExportPrecheck(t *testing.T) {
	f := newFixture(t, export.Options{Precheck: true})

	_, err := f.runner.Export(context.Background(), pngRequest("order-10"))
	assert.True(t, errors.Is(err, errors.ErrCodeQuotaDenied))
	assert.Contains(t, err.Error(), "no_entitlement")
	assert.False(t, f.hooks.started(observability.StageLoaded), "precheck should fail before any stage")

	f.grant(t, 1)
	_, err = f.runner.Export(context.Background(), pngRequest("order-11"))
	require.NoError(t, err)

	_, err = f.runner.Export(context.Background(), pngRequest("order-12"))
	assert.True(t, errors.Is(err, errors.ErrCodeQuotaDenied))
	assert.Contains(t, err.Error(), "no_credits")
}

func TestExportConcurrentDistinctKeys(t *testing.T) {
	f := newFixture(t, export.Options{SourceDPI: 96, MaxConcurrentRenders: 2})
	f.grant(t, 5)

	const n = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		consumed int
		denied   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := pngRequest("concurrent-" + strings.Repeat("x", i+1))
			_, err := f.runner.Export(context.Background(), req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				consumed++
			case errors.Is(err, errors.ErrCodeQuotaDenied):
				denied++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, consumed)
	assert.Equal(t, n-5, denied)
	assert.Equal(t, 5, f.used(t))
}

// cancellingCatalog cancels the request context once the document is loaded.
type cancellingCatalog struct {
	catalog.Catalog
	cancel context.CancelFunc
}

func (c cancellingCatalog) FetchBaseDocument(ctx context.Context, id string) (string, error) {
	src, err := c.Catalog.FetchBaseDocument(ctx, id)
	c.cancel()
	return src, err
}

func TestExportAbandonedBeforeMetering(t *testing.T) {
	f := newFixture(t, export.Options{SourceDPI: 96})
	f.grant(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	f.runner.Catalog = cancellingCatalog{Catalog: f.runner.Catalog, cancel: cancel}

	_, err := f.runner.Export(ctx, pngRequest("order-13"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.hooks.started(observability.StageMetered))
	assert.Equal(t, 0, f.used(t))
}
