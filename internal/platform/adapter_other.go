//go:build !linux && !darwin && !windows

package platform

import "github.com/rs/zerolog"

const nativeType = TypeUnknown

// newNativeAdapter is never registered on unrecognized systems; CreateAdapter
// reports ErrUnsupportedPlatform instead.
func newNativeAdapter(zerolog.Logger) (Adapter, error) { return nil, ErrUnsupportedPlatform }

func osVersion() (version, kernel string) { return "", "" }

func detectFeatures() Feature { return 0 }

func containerType() (string, bool) { return "", false }
