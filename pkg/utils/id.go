package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID returns a prefixed random identifier, e.g. "bid-3f2c...".
func GenerateID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
