// Package names maps a canonical asset symbol to the venue's perp and spot
// representations. Perps use the bare symbol; spot pairs quote against USDC and
// a handful of majors carry a venue-assigned "U" prefix on the base token.
package names

import "strings"

const quoteToken = "USDC"

// Majors whose spot token name differs from the perp symbol.
var spotBaseOverrides = map[string]string{
	"BTC":      "UBTC",
	"ETH":      "UETH",
	"SOL":      "USOL",
	"PUMP":     "UPUMP",
	"FARTCOIN": "UFART",
}

// Perp returns the derivative-side name for a canonical symbol.
func Perp(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// SpotBase returns the spot-side base token name, applying the venue prefix
// rules for majors.
func SpotBase(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if base, ok := spotBaseOverrides[sym]; ok {
		return base
	}
	return sym
}

// SpotPair returns the spot market name ("UBTC/USDC" style) for a canonical
// symbol.
func SpotPair(symbol string) string {
	base := SpotBase(symbol)
	if base == "" {
		return ""
	}
	return base + "/" + quoteToken
}

// Canonical reverses SpotBase: given a spot token name it returns the
// canonical symbol shared with the perp side.
func Canonical(spotBase string) string {
	token := strings.ToUpper(strings.TrimSpace(spotBase))
	for canonical, base := range spotBaseOverrides {
		if base == token {
			return canonical
		}
	}
	return strings.TrimSuffix(token, "/"+quoteToken)
}
