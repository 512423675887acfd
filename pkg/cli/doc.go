// Package cli defines the companion-api command tree: the HTTP server, schema
// migrations, operator commands for support submissions, and version output.
package cli
