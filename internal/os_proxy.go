package internal

import (
	"os"
)

// OsProxy defines the subset of os package functions the chunk staging
// code touches. Tests swap in a failing implementation to exercise
// local I/O error paths.
type OsProxy interface {
	CreateTemp(dir, pattern string) (*os.File, error)
	Remove(name string) error
}

// RealOS is the default implementation that delegates to the real os package.
type RealOS struct{}

func (RealOS) CreateTemp(dir, pattern string) (*os.File, error) { return os.CreateTemp(dir, pattern) } //nolint:revive
func (RealOS) Remove(name string) error                         { return os.Remove(name) }            //nolint:revive
