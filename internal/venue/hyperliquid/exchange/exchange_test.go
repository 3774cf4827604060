package exchange

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

func TestFloatToWire(t *testing.T) {
	cases := []struct {
		in  float64
		out string
	}{
		{in: 1.23, out: "1.23"},
		{in: 0, out: "0"},
		{in: math.Copysign(0, -1), out: "0"},
		{in: 1.23000000, out: "1.23"},
	}
	for _, tc := range cases {
		got, err := floatToWire(tc.in)
		if err != nil {
			t.Fatalf("unexpected error for %f: %v", tc.in, err)
		}
		if got != tc.out {
			t.Fatalf("expected %s, got %s", tc.out, got)
		}
	}
	if _, err := floatToWire(1.234567891); err == nil {
		t.Fatalf("expected rounding error")
	}
}

func TestEncodeOrderActionDeterministic(t *testing.T) {
	order, err := LimitOrderWire(10001, true, 2.5, 100.0, false, TifIoc, "0x0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("unexpected order wire error: %v", err)
	}
	action := OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"}
	b1, err := EncodeOrderAction(action)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	b2, err := EncodeOrderAction(action)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected deterministic encoding")
	}
	var decoded map[string]any
	if err := msgpack.Unmarshal(b1, &decoded); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if decoded["type"] != "order" {
		t.Fatalf("unexpected action type")
	}
	orders, ok := decoded["orders"].([]any)
	if !ok || len(orders) != 1 {
		t.Fatalf("expected 1 order")
	}
	orderMap, ok := orders[0].(map[string]any)
	if !ok {
		t.Fatalf("expected order map")
	}
	if orderMap["p"] != "100" {
		t.Fatalf("expected price 100, got %v", orderMap["p"])
	}
	if orderMap["s"] != "2.5" {
		t.Fatalf("expected size 2.5, got %v", orderMap["s"])
	}
	if orderMap["c"] != "0x0123456789abcdef0123456789abcdef" {
		t.Fatalf("expected cloid, got %v", orderMap["c"])
	}
}

func TestSignerRecover(t *testing.T) {
	signer, err := NewSigner("4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2", true)
	if err != nil {
		t.Fatalf("signer error: %v", err)
	}
	order, err := LimitOrderWire(1, true, 2.5, 100.0, false, TifIoc, "")
	if err != nil {
		t.Fatalf("order wire error: %v", err)
	}
	action := OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"}
	nonce := uint64(1700000000000)
	sig, err := signer.SignOrderAction(action, nonce, nil, nil)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	payload, err := EncodeOrderAction(action)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	aHash := actionHash(payload, nonce, nil, nil)
	digest, err := typedDataHash(aHash, true)
	if err != nil {
		t.Fatalf("digest error: %v", err)
	}
	sigBytes, err := signatureBytes(sig)
	if err != nil {
		t.Fatalf("signature bytes error: %v", err)
	}
	pubKey, err := crypto.SigToPub(digest, sigBytes)
	if err != nil {
		t.Fatalf("recover error: %v", err)
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	if recovered != signer.Address() {
		t.Fatalf("expected %s, got %s", signer.Address().Hex(), recovered.Hex())
	}
}

func TestRoundSpotPrice(t *testing.T) {
	cases := []struct {
		px         float64
		szDecimals int
		isBuy      bool
		want       float64
	}{
		{px: 1891.43, szDecimals: 4, isBuy: true, want: 1891.5},
		{px: 1891.43, szDecimals: 4, isBuy: false, want: 1891.4},
		{px: 100, szDecimals: 2, isBuy: true, want: 100},
		{px: 0.000123456, szDecimals: 0, isBuy: false, want: 0.00012345},
		{px: 0.000123456, szDecimals: 2, isBuy: true, want: 0.000124},
		{px: -1, szDecimals: 2, isBuy: true, want: 0},
	}
	for _, tc := range cases {
		if got := RoundSpotPrice(tc.px, tc.szDecimals, tc.isBuy); got != tc.want {
			t.Fatalf("RoundSpotPrice(%v, %d, %v): expected %v, got %v", tc.px, tc.szDecimals, tc.isBuy, tc.want, got)
		}
		if _, err := floatToWire(RoundSpotPrice(tc.px, tc.szDecimals, tc.isBuy)); err != nil {
			t.Fatalf("rounded price %v not wire safe: %v", tc.px, err)
		}
	}
}

func TestRoundSize(t *testing.T) {
	if got := RoundSize(1.23456, 2); got != 1.23 {
		t.Fatalf("expected 1.23, got %v", got)
	}
	if got := RoundSize(0.3, 1); got != 0.3 {
		t.Fatalf("expected 0.3, got %v", got)
	}
	if got := RoundSize(7.9, 0); got != 7 {
		t.Fatalf("expected 7, got %v", got)
	}
}

func TestSpotOrderWire(t *testing.T) {
	wire, err := SpotOrderWire(7, 2, true, 1.23456, 1891.43, TifIoc, "")
	if err != nil {
		t.Fatalf("spot order: %v", err)
	}
	if wire.Asset != SpotAssetOffset+7 {
		t.Fatalf("expected asset %d, got %d", SpotAssetOffset+7, wire.Asset)
	}
	if wire.Size != "1.23" || wire.Price != "1891.5" {
		t.Fatalf("expected size 1.23 at 1891.5, got %s at %s", wire.Size, wire.Price)
	}
	if wire.ReduceOnly {
		t.Fatalf("spot order must not be reduce-only")
	}
	sell, err := SpotOrderWire(7, 2, false, 1, 1891.43, TifGtc, "")
	if err != nil {
		t.Fatalf("spot sell: %v", err)
	}
	if sell.Price != "1891.4" || sell.OrderType.Limit.Tif != TifGtc {
		t.Fatalf("unexpected sell wire %+v", sell)
	}
	if _, err := SpotOrderWire(7, 2, true, 0.004, 1891.43, TifIoc, ""); !errors.Is(err, ErrZeroSize) {
		t.Fatalf("expected zero size error, got %v", err)
	}
	if _, err := SpotOrderWire(7, 2, true, 1, 0, TifIoc, ""); err == nil {
		t.Fatalf("expected price error")
	}
}

func TestEncodeCancelAction(t *testing.T) {
	payload, err := EncodeCancelAction(CancelAction{Type: "cancel", Cancels: []CancelWire{{Asset: 10001, OrderID: 42}}})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	var decoded map[string]any
	if err := msgpack.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	cancels, ok := decoded["cancels"].([]any)
	if !ok || len(cancels) != 1 {
		t.Fatalf("expected 1 cancel, got %v", decoded["cancels"])
	}
	if _, err := EncodeCancelAction(CancelAction{Type: "cancel"}); err == nil {
		t.Fatalf("expected error for empty cancels")
	}
}

func signatureBytes(sig Signature) ([]byte, error) {
	r, err := hexutil.Decode(sig.R)
	if err != nil {
		return nil, err
	}
	s, err := hexutil.Decode(sig.S)
	if err != nil {
		return nil, err
	}
	if len(r) != 32 || len(s) != 32 {
		return nil, errUnexpectedSigLen
	}
	v := sig.V - 27
	if v < 0 || v > 1 {
		return nil, errUnexpectedSigV
	}
	out := append(append([]byte{}, r...), s...)
	out = append(out, byte(v))
	return out, nil
}

var errUnexpectedSigLen = errors.New("unexpected signature length")
var errUnexpectedSigV = errors.New("unexpected signature v")
