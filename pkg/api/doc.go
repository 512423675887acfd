// Package api implements the HTTP API server (Gin-based) for the companion
// backend: controller registration under /api and the bare prefix, access
// logging, health and Prometheus endpoints, and graceful shutdown.
package api
