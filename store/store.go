// Package store keeps messages and files on disk: a directory mailbox with
// inbound, outbound and sent folders, and a shared file area that remote
// stations may list and fetch.
package store

import (
	"errors"
)

var (
	// ErrNotFound is returned for a missing file or message.
	ErrNotFound = errors.New("file not found")

	// ErrDirNotFound is returned for a missing directory.
	ErrDirNotFound = errors.New("directory not found")

	// ErrAuthRequired is returned when a protected path is read by an
	// unauthenticated session.
	ErrAuthRequired = errors.New("authentication required")

	// ErrBadName is returned for names that are empty or leave their
	// root directory.
	ErrBadName = errors.New("invalid name")
)
