// Package pkg provides the libraries behind Vectorprint, an export service
// that turns catalog vector art into styled, sized raster files and meters
// every export against entitlement grants.
//
// # Overview
//
// An export flows through the packages in this order:
//
//	catalog base document (SVG)
//	         ↓
//	    [svgdoc] parse into an element tree
//	         ↓
//	    [style] apply the user's style payload and watermark
//	         ↓
//	    [sizing] resolve the pixel target
//	         ↓
//	    [raster] rasterize and encode (PNG, JPEG, WEBP, TIFF)
//	         ↓
//	    [ledger] consume one credit, once per idempotency key
//	         ↓
//	    artifact bytes, media type and filename
//
// [export] orchestrates the stages, [cache] keeps rendered bytes between
// retries, and [api] exposes the pipeline over HTTP.
//
// # Quick Start
//
//	cat, _ := catalog.NewDirCatalog("catalog")
//	store, _ := sqlite.Open("ledger.db")
//	r := export.NewRunner(cat, ledger.New(store, nil), export.Options{})
//
//	art, err := r.Export(ctx, export.Request{
//	    ProductID:      "poster",
//	    Identity:       ledger.Identity{UserID: "alice"},
//	    Format:         raster.FormatPNG,
//	    Size:           sizing.Request{Width: &width},
//	    IdempotencyKey: uuid.NewString(),
//	})
//
// # Main Packages
//
// [svgdoc] - A mutable SVG element tree with parse and serialize.
//
// [style] - Applies fill, stroke and background overrides, sanitizes
// user-supplied defs and adds the preview watermark.
//
// [sizing] - Derives the output size from width, height, scale or a print
// size at a DPI, preserving the intrinsic aspect ratio.
//
// [raster] - Rasterizes a styled document with oksvg and encodes it.
//
// [ledger] - The entitlement ledger. Stores exist for memory, SQLite,
// PostgreSQL and MongoDB.
//
// [export] - The export orchestrator with bounded concurrency and
// de-duplicated renders.
//
// [catalog] - Base document lookup from a directory or an asset host.
//
// [cache] - Artifact caches on disk and in Redis.
//
// [api] - The HTTP API served by "vectorprint serve".
//
// [errors] - Error codes shared by all packages.
//
// [observability] - Hook interfaces for metrics and tracing.
package pkg
