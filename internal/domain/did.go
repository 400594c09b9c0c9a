package domain

import (
	"fmt"
	"strings"
)

// Country is a 2-letter ISO country code supported by the NPA table.
type Country string

const (
	CountryUS Country = "US"
	CountryCA Country = "CA"
)

func (c Country) String() string { return string(c) }

func (c Country) IsValid() bool {
	switch c {
	case CountryUS, CountryCA:
		return true
	}
	return false
}

// ParseCountryFromString accepts any explicit 2-letter code; codes outside the
// NPA table are passed to the vendor as-is.
func ParseCountryFromString(s string) (Country, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if len(normalized) != 2 {
		return "", fmt.Errorf("%w: country must be a 2-letter ISO code, got %q", ErrValidation, s)
	}
	return Country(normalized), nil
}

// ItemStatus is the terminal outcome of a single batch item.
type ItemStatus string

const (
	StatusSuccess        ItemStatus = "success"
	StatusPartialSuccess ItemStatus = "partial_success"
	StatusRateLimited    ItemStatus = "rate_limited"
	StatusFailed         ItemStatus = "failed"
)

func (s ItemStatus) String() string { return string(s) }

func (s ItemStatus) IsValid() bool {
	switch s {
	case StatusSuccess, StatusPartialSuccess, StatusRateLimited, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status is final. RateLimited items are owed one
// retry pass before they may be folded into a report.
func (s ItemStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusPartialSuccess || s == StatusFailed
}

// SanitizeDID strips every non-digit character from a dialed number.
func SanitizeDID(did string) string {
	var b strings.Builder
	b.Grow(len(did))
	for _, r := range did {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateDID enforces the wire-format constraint shared by update and release
// items: 10 to 15 digits after sanitization.
func ValidateDID(did string) error {
	sanitized := SanitizeDID(did)
	if len(sanitized) < 10 || len(sanitized) > 15 {
		return fmt.Errorf("%w: DID must contain 10 to 15 digits, got %q", ErrValidation, did)
	}
	return nil
}

// NationalNumber strips the single leading "1" country prefix from an 11-digit
// US/CA MSISDN. All other numbers pass through unchanged.
func NationalNumber(msisdn string, country Country) string {
	if country.IsValid() && len(msisdn) == 11 && strings.HasPrefix(msisdn, "1") {
		return msisdn[1:]
	}
	return msisdn
}

// ResolveCountry determines the country and international MSISDN for a DID.
// An explicit country always wins. Otherwise the last 10 digits are matched
// against the US/CA NPA table and, on a hit, the MSISDN is normalized to the
// 11-digit "1"-prefixed form.
func ResolveCountry(did string, explicit Country) (Country, string, error) {
	msisdn := SanitizeDID(did)
	if explicit != "" {
		return explicit, msisdn, nil
	}

	if len(msisdn) >= 10 {
		national := msisdn[len(msisdn)-10:]
		if country, ok := CountryForNPA(national[:3]); ok {
			if !strings.HasPrefix(msisdn, "1") {
				msisdn = "1" + national
			}
			return country, msisdn, nil
		}
	}

	return "", "", fmt.Errorf("%w: could not auto-detect country from DID %q, provide a 2-letter country code", ErrValidation, did)
}
