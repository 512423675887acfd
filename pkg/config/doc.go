// Package config loads the YAML configuration file, overlays environment
// variables (optionally from a .env file) and fills in defaults.
package config
