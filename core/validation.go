// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxErrorLength bounds the failure message stored on a job.
const MaxErrorLength = 1000

// NormalizeURL validates a raw URL and returns its normalized string form.
//
// Validation rules:
//   - URL must not be empty
//   - Scheme must be http or https
//   - Host must be present
//
// Normalization lowercases scheme and host and drops the fragment.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, ErrUnsupportedScheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, ErrMissingHost)
	}

	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// MaxTenantLength bounds a tenant ID in bytes.
const MaxTenantLength = 256

// ValidateTenant checks that a tenant ID is present, printable and bounded.
func ValidateTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyTenant)
	}
	if len(tenantID) > MaxTenantLength || !utf8.ValidString(tenantID) || strings.IndexFunc(tenantID, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: %w", ErrInvalidInput, ErrInvalidTenant)
	}
	return nil
}

// TruncateError bounds an error message to max runes without splitting a character.
func TruncateError(msg string, max int) string {
	if max <= 0 || utf8.RuneCountInString(msg) <= max {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:max])
}
