package enums

import "fmt"

// ProviderCode identifies the upstream an order item or lease is fulfilled by.
type ProviderCode string

const (
	ProviderDigiflazz   ProviderCode = "digiflazz"
	ProviderTokoVoucher ProviderCode = "tokovoucher"
	ProviderAPIGames    ProviderCode = "apigames"
	ProviderMedanPedia  ProviderCode = "medanpedia"
	ProviderVakSMS      ProviderCode = "vaksms"
)

var validProviderCodes = []ProviderCode{
	ProviderDigiflazz,
	ProviderTokoVoucher,
	ProviderAPIGames,
	ProviderMedanPedia,
	ProviderVakSMS,
}

func (c ProviderCode) String() string { return string(c) }

// IsValid reports whether the value matches a known upstream.
func (c ProviderCode) IsValid() bool {
	for _, candidate := range validProviderCodes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseProviderCode converts raw input into ProviderCode.
func ParseProviderCode(value string) (ProviderCode, error) {
	for _, candidate := range validProviderCodes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid provider code %q", value)
}
