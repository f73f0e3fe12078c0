package storage

import (
	"fmt"
	"os"
	"strconv"
)

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// SetKey formats a set id as a fixed-width key so keys sort numerically.
func SetKey(setID int) string {
	return fmt.Sprintf("%06d", setID)
}

// ParseSetKey reverses SetKey.
func ParseSetKey(key string) (int, error) {
	id, err := strconv.Atoi(key)
	if err != nil {
		return 0, err
	}
	return id, nil
}
