// Package security provides validation, sanitization, and limits for the
// harvest pipeline.
package security
