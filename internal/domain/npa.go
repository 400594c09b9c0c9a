package domain

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed npa_data.json
var npaData []byte

// npaTable maps 3-digit North American area codes to their country.
var npaTable = mustLoadNPATable()

func mustLoadNPATable() map[string]Country {
	var raw map[Country][]string
	if err := json.Unmarshal(npaData, &raw); err != nil {
		panic(fmt.Sprintf("domain: invalid embedded NPA table: %v", err))
	}

	table := make(map[string]Country)
	for country, npas := range raw {
		for _, npa := range npas {
			table[npa] = country
		}
	}
	return table
}

// CountryForNPA looks up a 3-digit area code in the US/CA table.
func CountryForNPA(npa string) (Country, bool) {
	country, ok := npaTable[npa]
	return country, ok
}

// ValidateNPA enforces the 3-digit area-code format. Format and table
// membership are separate checks: a well-formed but unknown NPA is a pipeline
// failure, not a request validation failure.
func ValidateNPA(npa string) error {
	if len(npa) != 3 {
		return fmt.Errorf("%w: NPA must be exactly 3 digits, got %q", ErrValidation, npa)
	}
	for _, r := range npa {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: NPA must be numeric, got %q", ErrValidation, npa)
		}
	}
	return nil
}
