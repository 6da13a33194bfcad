package naming

import (
	"errors"
	"path"
	"regexp"
	"strings"
)

// KeyPrefix is the folder every generated certificate is stored under.
const KeyPrefix = "certificates"

// ErrIdentityRequired is returned when the identity fields that make up the
// file name are empty after sanitization.
var ErrIdentityRequired = errors.New("certificate_number, first_name and last_name are required")

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	unsafeChars   = regexp.MustCompile(`[^a-zA-Z0-9_]`)
)

// SanitizePart makes a string safe to use as a file name component:
// surrounding whitespace is trimmed, internal whitespace runs collapse to a
// single underscore and everything outside [A-Za-z0-9_] is dropped.
func SanitizePart(value string) string {
	value = strings.TrimSpace(value)
	value = whitespaceRun.ReplaceAllString(value, "_")
	return unsafeChars.ReplaceAllString(value, "")
}

// DeriveKey builds the storage key for a certificate document from the
// sanitized identity fields: certificates/{certNo}_{first}[_{middle}]_{last}.docx.
// The middle name is optional and omitted when it sanitizes to nothing.
// Any caller-supplied output key is overridden by the derived one.
func DeriveKey(certNo, first, middle, last string) (string, error) {
	certNo = SanitizePart(certNo)
	first = SanitizePart(first)
	middle = SanitizePart(middle)
	last = SanitizePart(last)

	if certNo == "" || first == "" || last == "" {
		return "", ErrIdentityRequired
	}

	parts := []string{certNo, first}
	if middle != "" {
		parts = append(parts, middle)
	}
	parts = append(parts, last)

	return KeyPrefix + "/" + strings.Join(parts, "_") + ".docx", nil
}

// WithExtension rewrites the extension of a storage key, keeping the rest of
// the path intact.
func WithExtension(key, ext string) string {
	return strings.TrimSuffix(key, path.Ext(key)) + "." + ext
}
