package observability

import (
	"context"
	"testing"
	"time"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	// Export hooks
	e := NoopExportHooks{}
	e.OnStageStart(ctx, StageLoaded, "poster")
	e.OnStageComplete(ctx, StageRendered, "poster", time.Second, nil)
	e.OnRendered(ctx, "poster", "png", 2048)
	e.OnMetered(ctx, "poster", "consumed", "")

	// Cache hooks
	c := NoopCacheHooks{}
	c.OnCacheHit(ctx, "artifact")
	c.OnCacheMiss(ctx, "artifact")
	c.OnCacheSet(ctx, "artifact", 1024)

	// Ledger hooks
	l := NoopLedgerHooks{}
	l.OnConsume(ctx, "poster", "denied", "no_credits", time.Millisecond, nil)
	l.OnCompensate(ctx, "grant-1")
	l.OnGrantIssued(ctx, "poster", 3)

	// HTTP hooks
	h := NoopHTTPHooks{}
	h.OnRequest(ctx, "POST", "/v1/products/{productID}/exports")
	h.OnResponse(ctx, "POST", "/v1/products/{productID}/exports", 200, time.Second)
}

func TestGlobalHooksRegistry(t *testing.T) {
	// Reset to known state
	Reset()

	// Verify defaults are noop
	if _, ok := Export().(NoopExportHooks); !ok {
		t.Error("Export() should return NoopExportHooks by default")
	}
	if _, ok := Cache().(NoopCacheHooks); !ok {
		t.Error("Cache() should return NoopCacheHooks by default")
	}
	if _, ok := Ledger().(NoopLedgerHooks); !ok {
		t.Error("Ledger() should return NoopLedgerHooks by default")
	}
	if _, ok := HTTP().(NoopHTTPHooks); !ok {
		t.Error("HTTP() should return NoopHTTPHooks by default")
	}

	// Set custom hooks
	customExport := &testExportHooks{}
	SetExportHooks(customExport)
	if Export() != customExport {
		t.Error("SetExportHooks should set custom hooks")
	}

	customCache := &testCacheHooks{}
	SetCacheHooks(customCache)
	if Cache() != customCache {
		t.Error("SetCacheHooks should set custom hooks")
	}

	customLedger := &testLedgerHooks{}
	SetLedgerHooks(customLedger)
	if Ledger() != customLedger {
		t.Error("SetLedgerHooks should set custom hooks")
	}

	customHTTP := &testHTTPHooks{}
	SetHTTPHooks(customHTTP)
	if HTTP() != customHTTP {
		t.Error("SetHTTPHooks should set custom hooks")
	}

	// Reset and verify
	Reset()
	if _, ok := Export().(NoopExportHooks); !ok {
		t.Error("Reset() should restore NoopExportHooks")
	}
	if _, ok := Ledger().(NoopLedgerHooks); !ok {
		t.Error("Reset() should restore NoopLedgerHooks")
	}
}

func TestSetNilHooksIsIgnored(t *testing.T) {
	Reset()

	custom := &testExportHooks{}
	SetExportHooks(custom)

	// Setting nil should be ignored
	SetExportHooks(nil)

	if Export() != custom {
		t.Error("SetExportHooks(nil) should be ignored")
	}

	Reset()
}

// Test implementations
type testExportHooks struct{ NoopExportHooks }
type testCacheHooks struct{ NoopCacheHooks }
type testLedgerHooks struct{ NoopLedgerHooks }
type testHTTPHooks struct{ NoopHTTPHooks }
