package util

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateUUIDWithLength generates a UUID with a specified length
func GenerateUUIDWithLength(length int) (string, error) {
	u := uuid.New()
	encoded := base64.RawURLEncoding.EncodeToString(u[:]) // 22 symbols without padding

	if length > len(encoded) {
		return "", errors.New("requested length exceeds the maximum possible")
	}

	return encoded[:length], nil
}

// NewRunID returns a run id of the form yyyy-mm-dd-XXXXXXXX
func NewRunID(now time.Time, length int) (string, error) {
	suffix, err := GenerateUUIDWithLength(length)
	if err != nil {
		return "", err
	}
	suffix = strings.ToUpper(strings.NewReplacer("-", "X", "_", "Y").Replace(suffix))
	return now.Format("2006-01-02") + "-" + suffix, nil
}
