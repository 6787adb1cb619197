// Package api handles incoming HTTP requests, request validation and
// response formatting. It adapts the feedback service to the HTTP contract
// of the analysis and health endpoints.
package api
