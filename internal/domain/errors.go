// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrCapacity indicates a bounded resource is already at its limit.
var ErrCapacity = errors.New("capacity exceeded")
