// Package api exposes the export pipeline over HTTP.
//
// Routes:
//
//	GET  /health
//	POST /v1/products/{productID}/exports
//	GET  /v1/products/{productID}/entitlements/summary
//
// Identity comes from the X-User-ID and X-Guest-ID headers, which an
// upstream gateway sets after authenticating the caller. The server does no
// authentication or purchase verification of its own.
//
// Export requests carry an idempotency key in the body or in the
// Idempotency-Key header. When neither is present the server generates one
// and echoes it in the Idempotency-Key response header so the client can
// retry safely.
package api
