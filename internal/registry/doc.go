// Package registry wraps the asset-management REST service.
//
// The Client lists and reads assets, requests and releases edit locks, uploads
// archives and downloads them. It carries no business rules: status codes are
// translated into the services error taxonomy (404 not found, 409 or an
// "already checked out" 400 as conflict, transport and 5xx failures as
// unavailable) and callers decide what to do next. Each request is traced
// through the global OpenTelemetry provider unless another is supplied.
package registry
