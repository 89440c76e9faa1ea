//go:build !dwf

package dwf

import "github.com/nasa-jpl/adscope/acquisition"

// NewNative returns ErrNoRuntime; the WaveForms binding needs the dwf build tag
func NewNative() (acquisition.Driver, error) {
	return nil, ErrNoRuntime
}
