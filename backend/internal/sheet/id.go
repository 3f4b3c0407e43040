package sheet

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidSheetID  = errors.New("INVALID_SHEET_ID")
	ErrReservedSheetID = errors.New("RESERVED_SHEET_ID")
	ErrSheetExists     = errors.New("SHEET_EXISTS")
)

// Names that collide with HTTP routes or the no-sync sentinel. They are
// rejected when creating a sheet via upload; joining them over the socket
// is harmless because those paths never reach the socket client.
var reservedSheetIDs = map[string]struct{}{
	"nosync":  {},
	"upload":  {},
	"healthz": {},
}

// ValidateSheetID checks the raw (pre-normalization) id: 1-64 characters,
// no '.', '/', '\' and no control characters. Anything else, including
// non-ASCII, is allowed.
func ValidateSheetID(id string) error {
	n := utf8.RuneCountInString(id)
	if n < 1 || n > 64 {
		return ErrInvalidSheetID
	}
	for _, r := range id {
		switch {
		case r == '.' || r == '/' || r == '\\':
			return ErrInvalidSheetID
		case r < 0x20 || r == 0x7F:
			return ErrInvalidSheetID
		}
	}
	return nil
}

// NormalizeSheetID lowercases the id so lookups are case-insensitive.
func NormalizeSheetID(id string) string {
	return strings.ToLower(id)
}

func IsReservedSheetID(normalizedID string) bool {
	_, ok := reservedSheetIDs[normalizedID]
	return ok
}
