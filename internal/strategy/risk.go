package strategy

import (
	"errors"
	"fmt"
	"math"

	"fairprice-bot/internal/config"
)

var (
	ErrOrderTooLarge = errors.New("order notional exceeds maximum")
	ErrOrderTooSmall = errors.New("order notional below minimum")
	ErrPositionLimit = errors.New("position notional exceeds maximum")
)

// CheckRisk validates an order of size base units at price against the
// configured limits. Orders that shrink the position are never blocked by
// the position limit.
func CheckRisk(cfg config.RiskConfig, size, price, position float64) error {
	if size == 0 {
		return nil
	}
	notional := math.Abs(size) * price
	if cfg.MinOrderNotional > 0 && notional < cfg.MinOrderNotional {
		return fmt.Errorf("%.4f < %.4f: %w", notional, cfg.MinOrderNotional, ErrOrderTooSmall)
	}
	if cfg.MaxOrderNotional > 0 && notional > cfg.MaxOrderNotional {
		return fmt.Errorf("%.4f > %.4f: %w", notional, cfg.MaxOrderNotional, ErrOrderTooLarge)
	}
	after := position + size
	if cfg.MaxPositionNotional > 0 && math.Abs(after) > math.Abs(position) {
		if exposure := math.Abs(after) * price; exposure > cfg.MaxPositionNotional {
			return fmt.Errorf("%.4f > %.4f: %w", exposure, cfg.MaxPositionNotional, ErrPositionLimit)
		}
	}
	return nil
}

// ClipToRisk shrinks size so the order and resulting position fit the
// maximum limits. It does not enforce the minimum.
func ClipToRisk(cfg config.RiskConfig, size, price, position float64) float64 {
	if size == 0 || !(price > 0) {
		return size
	}
	sign := 1.0
	if size < 0 {
		sign = -1
	}
	qty := math.Abs(size)
	if cfg.MaxOrderNotional > 0 {
		qty = math.Min(qty, cfg.MaxOrderNotional/price)
	}
	if cfg.MaxPositionNotional > 0 {
		limit := cfg.MaxPositionNotional / price
		after := position + sign*qty
		if math.Abs(after) > limit && math.Abs(after) > math.Abs(position) {
			room := limit - sign*position
			if room < 0 {
				room = 0
			}
			qty = math.Min(qty, room)
		}
	}
	return sign * qty
}
