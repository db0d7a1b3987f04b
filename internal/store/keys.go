package store

// Key layout. These strings must not change: existing data depends on them.
const (
	BinPrefix         = "bin:"
	RequestPrefix     = "request:"
	TokenPrefix       = "token:"
	TokenLookupPrefix = "token_lookup:"
)

// BinKey returns the key of a bin record.
func BinKey(binID string) string { return BinPrefix + binID }

// RequestsPrefix returns the prefix shared by every request of a bin.
func RequestsPrefix(binID string) string { return RequestPrefix + binID + ":" }

// RequestKey returns the key of a captured request record.
func RequestKey(binID, requestID string) string { return RequestsPrefix(binID) + requestID }

// TokenKey returns the key of a token's primary record.
func TokenKey(tokenID string) string { return TokenPrefix + tokenID }

// TokenLookupKey returns the key of a token's secret-to-id index entry.
func TokenLookupKey(secret string) string { return TokenLookupPrefix + secret }
