package domain

import (
	"errors"
	"testing"
)

func TestSanitizeDID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"12125550100", "12125550100"},
		{"+1 (212) 555-0100", "12125550100"},
		{"1.212.555.0100", "12125550100"},
		{"abc", ""},
		{"", ""},
	}
	for _, tc := range tests {
		if got := SanitizeDID(tc.in); got != tc.want {
			t.Errorf("SanitizeDID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateDID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		did     string
		wantErr bool
	}{
		{"eleven digits", "12125550100", false},
		{"ten digits", "2125550100", false},
		{"fifteen digits", "123456789012345", false},
		{"formatted", "+1 (212) 555-0100", false},
		{"too short", "123", true},
		{"sixteen digits", "1234567890123456", true},
		{"empty", "", true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateDID(tc.did)
			if tc.wantErr && !errors.Is(err, ErrValidation) {
				t.Errorf("ValidateDID(%q) = %v, want ErrValidation", tc.did, err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("ValidateDID(%q) = %v, want nil", tc.did, err)
			}
		})
	}
}

func TestNationalNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msisdn  string
		country Country
		want    string
	}{
		{"12125550100", CountryUS, "2125550100"},
		{"14165550100", CountryCA, "4165550100"},
		{"2125550100", CountryUS, "2125550100"},
		{"442071234567", Country("GB"), "442071234567"},
		{"12125550100", Country("GB"), "12125550100"},
	}
	for _, tc := range tests {
		if got := NationalNumber(tc.msisdn, tc.country); got != tc.want {
			t.Errorf("NationalNumber(%q, %s) = %q, want %q", tc.msisdn, tc.country, got, tc.want)
		}
	}
}

func TestResolveCountryExplicitWins(t *testing.T) {
	t.Parallel()

	country, msisdn, err := ResolveCountry("2125550100", Country("GB"))
	if err != nil {
		t.Fatalf("ResolveCountry() error = %v", err)
	}
	if country != Country("GB") {
		t.Errorf("country = %s, want GB unchanged", country)
	}
	if msisdn != "2125550100" {
		t.Errorf("msisdn = %q, want digits untouched for explicit country", msisdn)
	}
}

func TestResolveCountryAutoDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		did         string
		wantCountry Country
		wantMSISDN  string
	}{
		{"US area code, 10 digits", "2125550100", CountryUS, "12125550100"},
		{"US area code, 11 digits", "12125550100", CountryUS, "12125550100"},
		{"CA area code", "4165550100", CountryCA, "14165550100"},
		{"formatted input", "+1 (416) 555-0100", CountryCA, "14165550100"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			country, msisdn, err := ResolveCountry(tc.did, "")
			if err != nil {
				t.Fatalf("ResolveCountry(%q) error = %v", tc.did, err)
			}
			if country != tc.wantCountry {
				t.Errorf("country = %s, want %s", country, tc.wantCountry)
			}
			if msisdn != tc.wantMSISDN {
				t.Errorf("msisdn = %q, want %q", msisdn, tc.wantMSISDN)
			}
		})
	}
}

func TestResolveCountryUnknownAreaCodeFails(t *testing.T) {
	t.Parallel()

	tests := []string{
		"0005550100",
		"9995550100",
		"123",
	}
	for _, did := range tests {
		if _, _, err := ResolveCountry(did, ""); !errors.Is(err, ErrValidation) {
			t.Errorf("ResolveCountry(%q) = %v, want ErrValidation", did, err)
		}
	}
}

func TestParseCountryFromString(t *testing.T) {
	t.Parallel()

	country, err := ParseCountryFromString(" gb ")
	if err != nil {
		t.Fatalf("ParseCountryFromString() error = %v", err)
	}
	if country != Country("GB") {
		t.Errorf("country = %s, want GB", country)
	}

	if _, err := ParseCountryFromString("GBR"); !errors.Is(err, ErrValidation) {
		t.Errorf("three-letter code error = %v, want ErrValidation", err)
	}
}
