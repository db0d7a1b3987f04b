package tokens

import "errors"

// Error messages are part of the API: clients match on them.
var (
	ErrTokenNotFound  = errors.New("Token not found")
	ErrInvalidTokenID = errors.New("Invalid token ID")
	ErrTokenRequired  = errors.New("Token is required")
	ErrInvalidToken   = errors.New("Invalid token")
	ErrTokenInactive  = errors.New("Token is inactive or not found")
	ErrTokenExpired   = errors.New("Token has expired")
	ErrQuotaExceeded  = errors.New("Daily quota exceeded")
	ErrInvalidName    = errors.New("Invalid token name. Use 1-100 characters: letters, numbers, spaces, hyphens and underscores only.")
	ErrInvalidQuota   = errors.New("Daily quota must be a positive integer")
)
