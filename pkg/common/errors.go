package common

import "errors"

var (
	ErrNotFound          = errors.New("no such entry")
	ErrNotDirectory      = errors.New("not a directory")
	ErrIsDirectory       = errors.New("is a directory")
	ErrReadOnly          = errors.New("filesystem is read-only")
	ErrSourceUnavailable = errors.New("remote source unavailable")
	ErrCorruptIndex      = errors.New("corrupt tree index")
)
