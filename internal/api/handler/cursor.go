package handler

import (
	"encoding/base64"
	"fmt"

	"github.com/cuongbtq/soundcron/internal/domain"
)

// DecodeKeyCursor returns the job key after which a listing resumes
func DecodeKeyCursor(cursorStr string) (string, error) {
	if cursorStr == "" {
		return "", nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return "", err
	}

	key := string(decoded)
	if _, _, err := domain.SplitJobKey(key); err != nil {
		return "", fmt.Errorf("invalid cursor format: %w", err)
	}
	return key, nil
}

func EncodeKeyCursor(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}
