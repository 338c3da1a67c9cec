// Package utils holds small shared helpers.
package utils

import "github.com/google/uuid"

// NewUUID7 returns a time-ordered UUID string. Used for build ids so records
// sort by creation time.
func NewUUID7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	return id.String(), nil
}
