package orchestrator

import "errors"

var (
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrIntegrationDisabled = errors.New("integration is disabled")
	ErrMalformedMessage    = errors.New("malformed message")
	ErrMisconfigured       = errors.New("integration misconfigured")
)
