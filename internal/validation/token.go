package validation

import "fmt"

const (
	minTokenLength = 20
	maxTokenLength = 200
)

// ValidateDeviceToken checks an FCM device token before any network work:
// non-empty, length within [20, 200], characters restricted to
// alphanumerics plus '_', '-', ':' and '.'.
func ValidateDeviceToken(token string) error {
	if token == "" {
		return fmt.Errorf("device token cannot be empty")
	}
	if len(token) < minTokenLength {
		return fmt.Errorf("device token too short (minimum %d characters)", minTokenLength)
	}
	if len(token) > maxTokenLength {
		return fmt.Errorf("device token too long (maximum %d characters)", maxTokenLength)
	}
	for _, c := range token {
		if !isTokenChar(c) {
			return fmt.Errorf("device token contains invalid characters")
		}
	}
	return nil
}

func isTokenChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '-', c == ':', c == '.':
		return true
	}
	return false
}
