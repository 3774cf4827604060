package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fairprice-bot/internal/config"
	"fairprice-bot/internal/exec"
	"fairprice-bot/internal/instrument"
	"fairprice-bot/internal/logging"
	"fairprice-bot/internal/state/sqlite"
	"fairprice-bot/internal/venue/hyperliquid"
	"fairprice-bot/internal/venue/hyperliquid/exchange"
	"fairprice-bot/internal/venue/hyperliquid/rest"

	"go.uber.org/zap"
)

const (
	defaultVerifyNotional = 12.0
	defaultSlippageBps    = 20
	defaultVerifyEnvFile  = ".env"
)

// verify resolves every configured instrument against Hyperliquid spot
// metadata and prints balances. With -send it places one small IOC buy to
// check signing end to end.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	target := flag.String("instrument", "", "instrument for the verify order (default: first configured)")
	notional := flag.Float64("notional", defaultVerifyNotional, "verify order notional in quote units")
	slippageBps := flag.Int("slippage-bps", defaultSlippageBps, "limit price offset over mid")
	send := flag.Bool("send", false, "sign and send the verify order")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	keys, err := cfg.Keys()
	if err != nil {
		fatal(err)
	}
	ctx := context.Background()
	info := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, log)

	var client *exchange.Client
	user := cfg.Venue.WalletAddress
	if cfg.Venue.PrivateKey != "" {
		client, err = newExchangeClient(ctx, cfg, log)
		if err != nil {
			fatal(err)
		}
		user = client.Address().Hex()
	}
	venue := hyperliquid.New(info, client, user, cfg.Venue.FeeRate, log)
	if err := venue.Refresh(ctx); err != nil {
		fatal(err)
	}

	assets := make(map[instrument.Key]hyperliquid.SpotAsset, len(keys))
	for _, k := range keys {
		asset, err := venue.Asset(ctx, k)
		if err != nil {
			fatal(err)
		}
		assets[k] = asset
		fmt.Printf("instrument %s: coin=%s asset_id=%d sz_decimals=%d mid=%g day_volume=%.2f\n",
			k, asset.Coin, exchange.SpotAssetOffset+asset.Index, asset.SzDecimals, asset.Mid, asset.DayVolume)
	}

	if balances, err := venue.Balances(ctx); err != nil {
		log.Warn("balances unavailable", zap.Error(err))
	} else {
		for _, k := range keys {
			fmt.Printf("balance %s=%g %s=%g\n", k.Base, balances[k.Base], k.Quote, balances[k.Quote])
		}
	}

	key := keys[0]
	if *target != "" {
		if key, err = instrument.Parse(*target); err != nil {
			fatal(err)
		}
	}
	asset, ok := assets[key]
	if !ok {
		fatal(fmt.Errorf("%s is not a configured instrument", key))
	}
	if !(asset.Mid > 0) {
		fatal(fmt.Errorf("%s has no mid price", key))
	}
	limit := exchange.RoundSpotPrice(asset.Mid*(1+float64(*slippageBps)/10000), asset.SzDecimals, true)
	size := exchange.RoundSize(*notional/limit, asset.SzDecimals)
	if !(size > 0) {
		fatal(errors.New("calculated size <= 0 after rounding"))
	}
	fmt.Printf("verify order: instrument=%s size=%g limit_price=%g notional=%.6f\n", key, size, limit, size*limit)
	if !*send {
		return
	}
	if client == nil {
		fatal(errors.New("venue.private_key is required to send"))
	}
	ack, err := venue.PlaceOrder(ctx, exec.Order{
		Key:           key,
		Side:          exec.SideBuy,
		Type:          exec.OrderIOC,
		Price:         limit,
		Size:          size,
		ClientOrderID: exec.NewClientOrderID(),
	})
	if err != nil {
		fatal(err)
	}
	fmt.Printf("exchange response: order_id=%s filled=%g avg_price=%g\n", ack.OrderID, ack.Filled, ack.AvgPrice)
}

func newExchangeClient(ctx context.Context, cfg *config.Config, log *zap.Logger) (*exchange.Client, error) {
	signer, err := exchange.NewSigner(cfg.Venue.PrivateKey, cfg.Venue.MainnetValue())
	if err != nil {
		return nil, err
	}
	if wallet := strings.TrimSpace(cfg.Venue.WalletAddress); wallet != "" && !strings.EqualFold(wallet, signer.Address().Hex()) {
		return nil, fmt.Errorf("wallet address does not match private key: got %s expected %s", wallet, signer.Address().Hex())
	}
	client, err := exchange.NewClient(cfg.REST.BaseURL, cfg.REST.Timeout, signer, cfg.Venue.VaultAddress)
	if err != nil {
		return nil, err
	}
	client.SetLogger(log)
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		log.Warn("nonce store init failed", zap.Error(err))
		return client, nil
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		log.Warn("nonce store init failed", zap.Error(err))
		return client, nil
	}
	if err := client.InitNonceStore(ctx, store); err != nil {
		log.Warn("nonce store init failed", zap.Error(err))
	}
	return client, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
