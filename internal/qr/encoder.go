// Package qr encodes certificate verification payloads into PNG images.
package qr

import (
	"errors"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the side length in pixels of the generated QR image.
const DefaultSize = 256

// ErrEmptyPayload is returned when there is nothing to encode. An empty
// certificate number must be rejected at request validation, so hitting
// this error means a caller skipped validation.
var ErrEmptyPayload = errors.New("qr payload cannot be empty")

// Encoder builds deterministic QR images for certificate verification.
// The zero value encodes the raw certificate number; with a base URL set
// it encodes a fully qualified verification link.
type Encoder struct {
	baseURL string
	size    int
}

// NewEncoder creates an encoder. baseURL may be empty, in which case the
// raw certificate number becomes the payload.
func NewEncoder(baseURL string) *Encoder {
	return &Encoder{baseURL: baseURL, size: DefaultSize}
}

// VerificationPayload returns the string that gets encoded for certNo:
// either the bare number or baseURL joined with it by exactly one slash.
func (e *Encoder) VerificationPayload(certNo string) string {
	if e.baseURL == "" {
		return certNo
	}
	base := strings.TrimRight(e.baseURL, "/")
	return base + "/" + strings.TrimLeft(certNo, "/")
}

// Encode renders the payload as a PNG image. The same payload always
// produces the same bytes.
func (e *Encoder) Encode(payload string) ([]byte, error) {
	if payload == "" {
		return nil, ErrEmptyPayload
	}

	size := e.size
	if size <= 0 {
		size = DefaultSize
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encoding qr payload: %w", err)
	}
	return png, nil
}
