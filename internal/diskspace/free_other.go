//go:build !unix

package diskspace

import "errors"

func Free(string) (uint64, error) {
	return 0, errors.New("free space lookup is not supported on this platform")
}
