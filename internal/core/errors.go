// Package core defines the fundamental types and errors for PulseOS.
package core

import "errors"

// Core errors that can occur across the system
var (
	// Analysis errors - recovered inside the analyzer, never surfaced
	ErrInsufficientData = errors.New("insufficient data for analysis")
	ErrZeroVariance     = errors.New("series has zero variance")

	// Gateway errors - recovered inside the gateway via fallback payloads
	ErrLLMTimeout  = errors.New("LLM call timed out")
	ErrLLMProvider = errors.New("LLM provider error")
	ErrParse       = errors.New("structured output failed validation")

	// Configuration errors - the only class that surfaces to callers,
	// and only at first use or health check
	ErrNotConfigured  = errors.New("LLM credentials not configured")
	ErrUnknownModel   = errors.New("no pricing entry for model")
	ErrInvalidConfig  = errors.New("invalid configuration")

	// Storage errors
	ErrRecordNotFound  = errors.New("record not found")
	ErrDuplicateRecord = errors.New("duplicate record")
	ErrMigrationFailed = errors.New("migration failed")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
)
