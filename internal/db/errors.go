package db

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable marks a failure to read or write the relational store.
	// Callers treat it as fatal for the current campaign.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTemplateNotFound is returned when no active template has the requested code.
	ErrTemplateNotFound = errors.New("template not found")
)

// storeErr tags err as a store failure while keeping the driver error in the chain.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
