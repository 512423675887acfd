// Package apiresponses provides the JSON envelope shared by every endpoint
// (success, message, data, errors, reference_id) and the gin helpers that write it.
package apiresponses
