// Package http implements the HTTP handlers of the synthesis API.
//
// Handlers stay thin: they bind and validate the request, call the
// service layer and render the response. Every failure is passed to
// errors.ErrorHandler, which turns it into an RFC 7807 problem document.
//
// # Routes
//
//	GET  /api/v1/targets/{region}/{period}   resolved target and its source
//	POST /api/v1/panels                      build (and optionally persist) a panel
//	POST /api/v1/panels/verify               verify persisted periods
//	GET  /healthz, /readyz                   liveness and readiness
package http
