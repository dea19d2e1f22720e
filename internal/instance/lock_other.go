//go:build !unix

package instance

import (
	"errors"
	"fmt"
	"os"
)

// Without flock the file's existence is the lock. A crash leaves it behind
// and it must be removed by hand.
func acquire(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("open lock: %w", err)
	}
	return f, nil
}

func release(f *os.File, path string) error {
	err := f.Close()
	os.Remove(path)
	return err
}
