//go:build !linux

// Package gpiochip implements a board on a Linux GPIO character device. Elsewhere Open fails.
package gpiochip

import (
	"github.com/pkg/errors"

	"go.viam.com/asyncsonar/components/board"
	"go.viam.com/asyncsonar/logging"
)

// Board only exists on Linux. The embedded interface lets callers compile elsewhere.
type Board struct {
	board.Board
}

// Open always fails outside Linux.
func Open(logger logging.Logger, devicePath string, names ...string) (*Board, error) {
	return nil, errors.New("gpio character devices are only available on linux")
}
