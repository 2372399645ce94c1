// Package api groups the HTTP surface of the CrisisLens service.
//
// The concrete request handlers live in the handlers subpackage. The HTTP
// routes they serve:
//
//   - POST /api/v1/captions            — analyze one image (core endpoint)
//   - GET  /api/v1/captions            — recent analysis records
//   - GET  /api/v1/models              — registered providers + availability records
//   - PUT  /api/v1/models              — upsert one availability record
//   - GET  /api/v1/schemas/{category}  — latest schema for a category
//   - PUT  /api/v1/schemas/{category}  — publish a schema version
//   - GET  /health, /healthz, /ready   — health probes
//   - GET  /version                    — build information
//
// # Authentication
//
// Mutating endpoints require the X-API-Key header when API keys are
// configured. Health probes and /version are always open.
//
// # Response envelope
//
// Every endpoint wraps its payload in handlers.Response:
//
//	{"success": true, "data": {...}, "timestamp": "..."}
//	{"success": false, "error": {"code": "PROVIDER_UNAVAILABLE", ...}, ...}
package api
