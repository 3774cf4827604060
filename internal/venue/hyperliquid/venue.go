// Package hyperliquid connects the bot to Hyperliquid spot markets: signed
// order placement, account balances and websocket market data.
package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"fairprice-bot/internal/exec"
	"fairprice-bot/internal/instrument"
	"fairprice-bot/internal/venue/hyperliquid/exchange"
	"fairprice-bot/internal/venue/hyperliquid/rest"

	"go.uber.org/zap"
)

const Name = "hyperliquid"

var (
	ErrUnknownAsset = errors.New("unknown spot asset")
	ErrUnknownOrder = errors.New("unknown order")
	ErrReadOnly     = errors.New("venue has no signing key")
)

// Venue is the order sink. Without an exchange client it can still serve
// balances and market metadata.
type Venue struct {
	info     *rest.Client
	exchange *exchange.Client
	user     string
	feeRate  float64
	log      *zap.Logger

	mu     sync.RWMutex
	assets map[string]SpotAsset
	orders map[string]int
}

func New(info *rest.Client, ex *exchange.Client, user string, feeRate float64, log *zap.Logger) *Venue {
	if log == nil {
		log = zap.NewNop()
	}
	if user == "" && ex != nil {
		user = ex.Address().Hex()
	}
	return &Venue{
		info:     info,
		exchange: ex,
		user:     user,
		feeRate:  feeRate,
		log:      log,
		orders:   make(map[string]int),
	}
}

// Refresh reloads spot metadata and day volumes.
func (v *Venue) Refresh(ctx context.Context) error {
	payload, err := v.info.InfoAny(ctx, rest.InfoRequest{Type: "spotMetaAndAssetCtxs"})
	if err != nil {
		return fmt.Errorf("spot meta: %w", err)
	}
	assets, err := parseSpotAssets(payload)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.assets = assets
	v.mu.Unlock()
	v.log.Info("spot meta loaded", zap.Int("assets", len(assets)))
	return nil
}

// Asset resolves key by its BASE/QUOTE symbol, loading metadata on first
// use.
func (v *Venue) Asset(ctx context.Context, key instrument.Key) (SpotAsset, error) {
	v.mu.RLock()
	loaded := v.assets != nil
	asset, ok := v.assets[key.Symbol()]
	v.mu.RUnlock()
	if !loaded {
		if err := v.Refresh(ctx); err != nil {
			return SpotAsset{}, err
		}
		v.mu.RLock()
		asset, ok = v.assets[key.Symbol()]
		v.mu.RUnlock()
	}
	if !ok {
		return SpotAsset{}, fmt.Errorf("%s: %w", key, ErrUnknownAsset)
	}
	return asset, nil
}

// PlaceOrder rounds the order to the asset's tick and lot rules and submits
// it. Spot orders cannot be reduce-only; that flag is dropped. The fee is
// estimated from the configured rate since fills do not report it.
func (v *Venue) PlaceOrder(ctx context.Context, order exec.Order) (exec.Ack, error) {
	if v.exchange == nil {
		return exec.Ack{}, ErrReadOnly
	}
	asset, err := v.Asset(ctx, order.Key)
	if err != nil {
		return exec.Ack{}, fmt.Errorf("%w: %w", err, exec.ErrRejected)
	}
	tif := exchange.TifGtc
	if order.Type == exec.OrderIOC {
		tif = exchange.TifIoc
	}
	wire, err := exchange.SpotOrderWire(asset.Index, asset.SzDecimals, order.Side == exec.SideBuy, order.Size, order.Price, tif, order.ClientOrderID)
	if err != nil {
		return exec.Ack{}, fmt.Errorf("%w: %w", err, exec.ErrRejected)
	}
	status, err := v.exchange.PlaceOrder(ctx, wire)
	if err != nil {
		if errors.Is(err, exchange.ErrActionFailed) {
			return exec.Ack{}, fmt.Errorf("%w: %w", err, exec.ErrRejected)
		}
		return exec.Ack{}, err
	}
	if status.OrderID != "" {
		v.mu.Lock()
		v.orders[status.OrderID] = wire.Asset
		v.mu.Unlock()
	}
	return exec.Ack{
		OrderID:       status.OrderID,
		ClientOrderID: order.ClientOrderID,
		Filled:        status.Filled,
		AvgPrice:      status.AvgPrice,
		Fee:           status.Filled * status.AvgPrice * v.feeRate,
	}, nil
}

func (v *Venue) CancelOrder(ctx context.Context, orderID string) error {
	if v.exchange == nil {
		return ErrReadOnly
	}
	v.mu.RLock()
	assetID, ok := v.orders[orderID]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", orderID, ErrUnknownOrder)
	}
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("order id %q: %w", orderID, err)
	}
	return v.exchange.CancelOrder(ctx, assetID, oid)
}

func (v *Venue) Balances(ctx context.Context) (map[string]float64, error) {
	if v.user == "" {
		return nil, errors.New("wallet address is required for balances")
	}
	payload, err := v.info.Info(ctx, rest.InfoRequest{Type: "spotClearinghouseState", User: v.user})
	if err != nil {
		return nil, fmt.Errorf("spot balances: %w", err)
	}
	return parseBalances(payload), nil
}
