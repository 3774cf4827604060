package exchange

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	maxSignificantFigures = 5
	maxSpotPriceDecimals  = 8
)

// ErrZeroSize is returned when an order size truncates to zero lots.
var ErrZeroSize = errors.New("size rounds to zero")

// SpotOrderWire builds a spot limit order for the asset at universe index
// index. The size is truncated to szDecimals and the price rounded with
// RoundSpotPrice. Spot orders are never reduce-only.
func SpotOrderWire(index, szDecimals int, isBuy bool, size, px float64, tif Tif, cloid string) (OrderWire, error) {
	if index < 0 {
		return OrderWire{}, fmt.Errorf("spot index %d", index)
	}
	rounded := RoundSize(size, szDecimals)
	if !(rounded > 0) {
		return OrderWire{}, fmt.Errorf("size %v at %d decimals: %w", size, szDecimals, ErrZeroSize)
	}
	limit := RoundSpotPrice(px, szDecimals, isBuy)
	if !(limit > 0) {
		return OrderWire{}, fmt.Errorf("limit price %v", px)
	}
	return LimitOrderWire(SpotAssetOffset+index, isBuy, rounded, limit, false, tif, cloid)
}

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

// RoundSpotPrice rounds px to five significant figures and at most
// 8 - szDecimals decimals. Buys round up and sells down so the limit stays
// marketable.
func RoundSpotPrice(px float64, szDecimals int, isBuy bool) float64 {
	if !(px > 0) {
		return 0
	}
	decimals := maxSignificantFigures - 1 - int(math.Floor(math.Log10(px)))
	if limit := maxSpotPriceDecimals - szDecimals; decimals > limit {
		decimals = limit
	}
	scale := math.Pow(10, float64(decimals))
	scaled := px * scale
	if isBuy {
		scaled = math.Ceil(scaled - 1e-9)
	} else {
		scaled = math.Floor(scaled + 1e-9)
	}
	return roundTo(scaled/scale, decimals)
}

// RoundSize truncates size to szDecimals.
func RoundSize(size float64, szDecimals int) float64 {
	if szDecimals < 0 {
		szDecimals = 0
	}
	scale := math.Pow(10, float64(szDecimals))
	return roundTo(math.Floor(size*scale+1e-9)/scale, szDecimals)
}

func roundTo(x float64, decimals int) float64 {
	if decimals < 0 {
		decimals = 0
	}
	out, _ := strconv.ParseFloat(strconv.FormatFloat(x, 'f', decimals, 64), 64)
	return out
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
