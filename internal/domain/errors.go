// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDisabled indicates the memory feature is disabled for the agent.
var ErrDisabled = errors.New("memory disabled for agent")
