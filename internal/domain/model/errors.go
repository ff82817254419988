package model

import "errors"

// Sentinel errors for the credential lifecycle and the sync pipeline.
var (
	// ErrMalformedCredential indicates a credential carries no usable expiry marker.
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrAuthenticationFailed indicates the external login handshake failed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrFailedRenewal indicates renewal ran but no credential could be read afterwards.
	ErrFailedRenewal = errors.New("credential renewal failed")

	// ErrSyncOperation indicates the remote fetch or the local upsert of a sync failed.
	ErrSyncOperation = errors.New("sync operation failed")
)
