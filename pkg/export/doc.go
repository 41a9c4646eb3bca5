// Package export runs the metered export pipeline.
//
// An export moves through six stages:
//
//  1. Loaded: the base document is fetched from the catalog
//  2. Styled: the style payload is applied to a sanitized copy
//  3. Sized: the raster target is resolved (raster formats only)
//  4. Rendered: the styled document is rasterized, or serialized for SVG
//  5. Metered: one credit is consumed from the ledger
//  6. Delivered: the artifact is returned to the caller
//
// Rendering always happens before metering, so a failed render never costs
// a credit, and metering always happens before delivery, so every delivered
// artifact is backed by a usage record. A denied export discards the bytes.
//
// # Usage
//
//	runner := export.NewRunner(catalog, ledger, export.Options{})
//	runner.Cache = cache.NewNullCache()
//	art, err := runner.Export(ctx, export.Request{
//	    ProductID:      "poster",
//	    Identity:       ledger.Identity{UserID: "u1"},
//	    Format:         raster.FormatPNG,
//	    IdempotencyKey: key,
//	})
//
// Retrying an export with the same idempotency key never consumes a second
// credit; a retried request whose first attempt was metered succeeds with
// an AlreadyConsumed outcome.
package export
