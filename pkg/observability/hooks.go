// Package observability provides hooks for metrics, tracing, and logging.
//
// Libraries emit events through small hook interfaces with no-op defaults,
// so no observability backend becomes a hard dependency. The export runner,
// the artifact cache, the entitlement ledger and the HTTP server each have
// their own event category.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetExportHooks(&myExportHooks{})
//	    observability.SetLedgerHooks(&myLedgerHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Export().OnStageStart(ctx, observability.StageRendered, productID)
//	// ... render ...
//	observability.Export().OnStageComplete(ctx, observability.StageRendered, productID, duration, err)
//
// The export runner also accepts hooks per instance, which is how tests
// observe a single run without touching the global registry.
package observability

import (
	"context"
	"sync"
	"time"
)

// Export stages, in pipeline order.
const (
	StageLoaded    = "loaded"
	StageStyled    = "styled"
	StageSized     = "sized"
	StageRendered  = "rendered"
	StageMetered   = "metered"
	StageDelivered = "delivered"
)

// =============================================================================
// Export Hooks
// =============================================================================

// ExportHooks receives events from the export pipeline.
type ExportHooks interface {
	// Stage events
	OnStageStart(ctx context.Context, stage, productID string)
	OnStageComplete(ctx context.Context, stage, productID string, duration time.Duration, err error)

	// OnRendered fires once artifact bytes exist and before metering.
	OnRendered(ctx context.Context, productID, format string, size int)

	// OnMetered reports the ledger outcome for an export.
	OnMetered(ctx context.Context, productID, status, reason string)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// =============================================================================
// Ledger Hooks
// =============================================================================

// LedgerHooks receives events from the entitlement ledger.
type LedgerHooks interface {
	// OnConsume records the result of a consume attempt. status is empty
	// when the attempt failed with err.
	OnConsume(ctx context.Context, productID, status, reason string, duration time.Duration, err error)

	// OnCompensate records an undone increment.
	OnCompensate(ctx context.Context, grantID string)

	// OnGrantIssued records a new grant.
	OnGrantIssued(ctx context.Context, productID string, quota int)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from the HTTP server.
type HTTPHooks interface {
	// OnRequest records an incoming HTTP request.
	OnRequest(ctx context.Context, method, route string)

	// OnResponse records the response to an incoming request.
	OnResponse(ctx context.Context, method, route string, statusCode int, duration time.Duration)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopExportHooks is a no-op implementation of ExportHooks.
type NoopExportHooks struct{}

func (NoopExportHooks) OnStageStart(context.Context, string, string) {}
func (NoopExportHooks) OnStageComplete(context.Context, string, string, time.Duration, error) {
}
func (NoopExportHooks) OnRendered(context.Context, string, string, int)    {}
func (NoopExportHooks) OnMetered(context.Context, string, string, string) {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopLedgerHooks is a no-op implementation of LedgerHooks.
type NoopLedgerHooks struct{}

func (NoopLedgerHooks) OnConsume(context.Context, string, string, string, time.Duration, error) {}
func (NoopLedgerHooks) OnCompensate(context.Context, string)                                    {}
func (NoopLedgerHooks) OnGrantIssued(context.Context, string, int)                              {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string)                      {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, int, time.Duration) {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	exportHooks ExportHooks = NoopExportHooks{}
	cacheHooks  CacheHooks  = NoopCacheHooks{}
	ledgerHooks LedgerHooks = NoopLedgerHooks{}
	httpHooks   HTTPHooks   = NoopHTTPHooks{}
	hooksMu     sync.RWMutex
)

// SetExportHooks registers custom export hooks.
// This should be called once at application startup before any exports run.
func SetExportHooks(h ExportHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		exportHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
// This should be called once at application startup before any cache operations.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetLedgerHooks registers custom ledger hooks.
func SetLedgerHooks(h LedgerHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		ledgerHooks = h
	}
}

// SetHTTPHooks registers custom HTTP hooks.
// This should be called once at application startup before serving.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// Export returns the registered export hooks.
func Export() ExportHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return exportHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// Ledger returns the registered ledger hooks.
func Ledger() LedgerHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return ledgerHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	exportHooks = NoopExportHooks{}
	cacheHooks = NoopCacheHooks{}
	ledgerHooks = NoopLedgerHooks{}
	httpHooks = NoopHTTPHooks{}
}
