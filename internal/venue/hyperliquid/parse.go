package hyperliquid

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"fairprice-bot/internal/market"
)

// SpotAsset describes one spot pair. Coin is the name the venue uses in
// mids, books and subscriptions: the pair name for canonical pairs and
// "@index" otherwise.
type SpotAsset struct {
	Symbol     string
	Base       string
	Quote      string
	Coin       string
	Index      int
	SzDecimals int
	DayVolume  float64
	Mid        float64
}

// parseSpotAssets reads a spotMetaAndAssetCtxs payload keyed by
// "BASE/QUOTE".
func parseSpotAssets(payload any) (map[string]SpotAsset, error) {
	universe, tokens, ctxs := extractSpotUniverse(payload)
	if len(universe) == 0 {
		return nil, errors.New("spot meta missing universe")
	}
	meta := tokenMetaByIndex(tokens)
	out := make(map[string]SpotAsset, len(universe))
	for i, entry := range universe {
		m, ok := toMap(entry)
		if !ok {
			continue
		}
		coin := stringFromMap(m, "name", "coin")
		base, quote, szDecimals := baseQuoteFromTokens(m, meta)
		if coin == "" || base == "" || quote == "" {
			continue
		}
		asset := SpotAsset{
			Symbol:     strings.ToUpper(base + "/" + quote),
			Base:       strings.ToUpper(base),
			Quote:      strings.ToUpper(quote),
			Coin:       coin,
			Index:      intFromAny(m["index"], i),
			SzDecimals: szDecimals,
		}
		if c, ok := indexedMap(ctxs, i); ok {
			asset.DayVolume, _ = floatFromAny(c["dayNtlVlm"])
			asset.Mid, _ = floatFromAny(c["midPx"])
		}
		out[asset.Symbol] = asset
	}
	if len(out) == 0 {
		return nil, errors.New("no spot assets parsed")
	}
	return out, nil
}

func extractSpotUniverse(payload any) (universe, tokens, ctxs []any) {
	if arr, ok := toSlice(payload); ok && len(arr) >= 1 {
		if m, ok := toMap(arr[0]); ok {
			universe, _ = toSlice(m["universe"])
			tokens, _ = toSlice(m["tokens"])
		}
		if len(arr) >= 2 {
			ctxs, _ = toSlice(arr[1])
		}
		return universe, tokens, ctxs
	}
	if m, ok := toMap(payload); ok {
		universe, _ = toSlice(m["universe"])
		tokens, _ = toSlice(m["tokens"])
	}
	return universe, tokens, nil
}

type tokenMeta struct {
	name       string
	szDecimals int
}

func tokenMetaByIndex(tokens []any) map[int]tokenMeta {
	names := make(map[int]tokenMeta, len(tokens))
	for i, item := range tokens {
		m, ok := toMap(item)
		if !ok {
			continue
		}
		name := stringFromMap(m, "name")
		if name == "" {
			continue
		}
		names[intFromAny(m["index"], i)] = tokenMeta{
			name:       name,
			szDecimals: intFromAny(m["szDecimals"], 0),
		}
	}
	return names
}

func baseQuoteFromTokens(m map[string]any, tokens map[int]tokenMeta) (string, string, int) {
	pair, ok := toSlice(m["tokens"])
	if !ok || len(pair) < 2 {
		base, quote, _ := strings.Cut(stringFromMap(m, "name"), "/")
		return base, quote, 0
	}
	base := tokens[intFromAny(pair[0], -1)]
	quote := tokens[intFromAny(pair[1], -1)]
	return base.name, quote.name, base.szDecimals
}

// parseBalances reads a spotClearinghouseState payload into totals per
// coin.
func parseBalances(payload map[string]any) map[string]float64 {
	out := make(map[string]float64)
	items, _ := toSlice(payload["balances"])
	for _, item := range items {
		m, ok := toMap(item)
		if !ok {
			continue
		}
		coin := strings.ToUpper(stringFromMap(m, "coin"))
		total, ok := floatFromAny(m["total"])
		if coin == "" || !ok {
			continue
		}
		out[coin] = total
	}
	return out
}

// parseMids reads allMids data: {"mids": {"@107": "12.5", ...}}.
func parseMids(data json.RawMessage) (map[string]float64, error) {
	var payload struct {
		Mids map[string]string `json:"mids"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(payload.Mids))
	for coin, raw := range payload.Mids {
		if px, err := strconv.ParseFloat(raw, 64); err == nil && px > 0 {
			out[coin] = px
		}
	}
	return out, nil
}

// parseAssetCtx reads activeAssetCtx / activeSpotAssetCtx data and returns
// the rolling day notional volume.
func parseAssetCtx(data json.RawMessage) (string, float64, bool) {
	var payload struct {
		Coin string         `json:"coin"`
		Ctx  map[string]any `json:"ctx"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Coin == "" {
		return "", 0, false
	}
	volume, ok := floatFromAny(payload.Ctx["dayNtlVlm"])
	return payload.Coin, volume, ok
}

type wireLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

// parseL2Book reads l2Book data into the top of book.
func parseL2Book(data json.RawMessage) (coin string, at time.Time, bid, ask market.Level, ok bool) {
	var payload struct {
		Coin   string        `json:"coin"`
		Time   int64         `json:"time"`
		Levels [][]wireLevel `json:"levels"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Levels) < 2 {
		return "", time.Time{}, bid, ask, false
	}
	if len(payload.Levels[0]) == 0 || len(payload.Levels[1]) == 0 {
		return "", time.Time{}, bid, ask, false
	}
	bid, okBid := level(payload.Levels[0][0])
	ask, okAsk := level(payload.Levels[1][0])
	if !okBid || !okAsk {
		return "", time.Time{}, bid, ask, false
	}
	return payload.Coin, time.UnixMilli(payload.Time).UTC(), bid, ask, true
}

func level(l wireLevel) (market.Level, bool) {
	px, err := strconv.ParseFloat(l.Px, 64)
	if err != nil {
		return market.Level{}, false
	}
	sz, err := strconv.ParseFloat(l.Sz, 64)
	if err != nil {
		return market.Level{}, false
	}
	return market.Level{Price: px, Size: sz}, true
}

func indexedMap(items []any, idx int) (map[string]any, bool) {
	if idx < 0 || idx >= len(items) {
		return nil, false
	}
	return toMap(items[idx])
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func intFromAny(v any, fallback int) int {
	if f, ok := floatFromAny(v); ok {
		return int(f)
	}
	return fallback
}
