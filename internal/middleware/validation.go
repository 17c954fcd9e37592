package middleware

import (
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/google/uuid"

	apperrors "github.com/michel-DC/Teamify-sub004/pkg/errors"
)

const maxTitleLength = 256

// ValidateID validates a resource identifier.
func ValidateID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.InvalidArg("invalid " + kind + " ID format")
	}
	return nil
}

// ValidateUserID validates an opaque user reference.
func ValidateUserID(id string) error {
	if id == "" {
		return apperrors.InvalidArg("user ID cannot be empty")
	}
	if len(id) > 128 {
		return apperrors.InvalidArg("user ID exceeds maximum length")
	}
	return nil
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if len(title) > maxTitleLength {
		return apperrors.InvalidArg("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return apperrors.InvalidArg("title must be valid UTF-8")
	}
	return nil
}

// QueryInt reads a non-negative integer query parameter, returning def when
// it is absent.
func QueryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperrors.InvalidArg("invalid " + key + " parameter")
	}
	return v, nil
}

// QueryUint reads an unsigned integer query parameter such as a sequence
// cursor.
func QueryUint(r *http.Request, key string) (uint64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperrors.InvalidArg("invalid " + key + " parameter")
	}
	return v, nil
}

// QueryBool reads a boolean query parameter.
func QueryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}
