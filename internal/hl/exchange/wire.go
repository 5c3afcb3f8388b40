package exchange

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Venue precision rules. Prices carry at most five significant figures and a
// decimal cap that depends on the leg: perp prices allow 6-szDecimals
// decimals, spot prices 8-szDecimals. Sizes are floored to szDecimals so an
// order can never exceed the intended notional.
const (
	priceSigFigs      = 5
	perpPriceDecimals = 6
	spotPriceDecimals = 8
)

func LimitOrderWire(asset int, isBuy bool, size, limit float64, reduceOnly bool, tif Tif, cloid string) (OrderWire, error) {
	if tif == "" {
		return OrderWire{}, errors.New("tif is required")
	}
	price, err := floatToWire(limit)
	if err != nil {
		return OrderWire{}, fmt.Errorf("limit price: %w", err)
	}
	sizeWire, err := floatToWire(size)
	if err != nil {
		return OrderWire{}, fmt.Errorf("size: %w", err)
	}
	return OrderWire{
		Asset:      asset,
		IsBuy:      isBuy,
		Price:      price,
		Size:       sizeWire,
		ReduceOnly: reduceOnly,
		OrderType:  OrderTypeWire{Limit: &LimitOrderType{Tif: tif}},
		Cloid:      cloid,
	}, nil
}

// RoundPrice normalizes a price to the venue's rules for the given leg:
// five significant figures, then the per-leg decimal cap.
func RoundPrice(price float64, szDecimals int, isSpot bool) float64 {
	if price <= 0 {
		return 0
	}
	if sig, err := strconv.ParseFloat(strconv.FormatFloat(price, 'g', priceSigFigs, 64), 64); err == nil {
		price = sig
	}
	maxDecimals := perpPriceDecimals
	if isSpot {
		maxDecimals = spotPriceDecimals
	}
	decimals := maxDecimals
	if szDecimals >= 0 {
		decimals -= szDecimals
	}
	if decimals < 0 {
		decimals = 0
	}
	factor := math.Pow10(decimals)
	return math.Round(price*factor) / factor
}

// RoundSize floors a base quantity to the leg's size decimals. The two legs
// of a pair round independently, so their nominal sizes may differ slightly.
func RoundSize(size float64, szDecimals int) float64 {
	if size <= 0 {
		return 0
	}
	if szDecimals <= 0 {
		return math.Floor(size)
	}
	factor := math.Pow10(szDecimals)
	return math.Floor(size*factor) / factor
}

func floatToWire(x float64) (string, error) {
	rounded := fmt.Sprintf("%.8f", x)
	parsed, err := strconv.ParseFloat(rounded, 64)
	if err != nil {
		return "", err
	}
	if math.Abs(parsed-x) >= 1e-12 {
		return "", fmt.Errorf("float_to_wire causes rounding: %f", x)
	}
	trimmed := strings.TrimRight(rounded, "0")
	trimmed = strings.TrimRight(trimmed, ".")
	if trimmed == "" || trimmed == "-0" {
		trimmed = "0"
	}
	return trimmed, nil
}
