package statestore

import "errors"

// Sentinel errors for state-store path operations.
var (
	ErrPathNotFound        = errors.New("statestore: path not found")
	ErrTypeMismatch        = errors.New("statestore: set through a non-object")
	ErrWildcardInSetRemove = errors.New("statestore: wildcard not allowed in set/remove")
)
