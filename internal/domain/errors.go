// Package domain contains domain models and business logic errors.
package domain

import "errors"

// Common domain errors
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidArgument is returned when an invalid argument is provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoActiveHosts is returned by the allocation engine when no host is eligible.
	ErrNoActiveHosts = errors.New("no active hosts available for allocation")

	// ErrNoHostsAvailable is returned by a placement policy given an empty host set.
	ErrNoHostsAvailable = errors.New("no hosts available")

	// ErrUnknownPolicy is returned when a placement policy name is not recognized.
	ErrUnknownPolicy = errors.New("unknown placement policy")

	// ErrUnavailable is returned when a service or resource is unavailable.
	ErrUnavailable = errors.New("service unavailable")
)
