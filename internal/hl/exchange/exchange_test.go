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

func TestRoundPricePerLeg(t *testing.T) {
	cases := []struct {
		name       string
		price      float64
		szDecimals int
		isSpot     bool
		want       float64
	}{
		{"perp 5 sig figs", 12345.6789, 0, false, 12346},
		{"perp decimal cap", 1.23456789, 3, false, 1.235},
		{"spot wider cap", 0.000123456, 0, true, 0.00012346},
		{"zero price", 0, 2, false, 0},
	}
	for _, tc := range cases {
		if got := RoundPrice(tc.price, tc.szDecimals, tc.isSpot); math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("%s: RoundPrice = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRoundSizeFloorsPerLeg(t *testing.T) {
	if got := RoundSize(1.23999, 2); got != 1.23 {
		t.Fatalf("RoundSize(1.23999, 2) = %v", got)
	}
	if got := RoundSize(5.9, 0); got != 5 {
		t.Fatalf("RoundSize(5.9, 0) = %v", got)
	}
	// Different per-leg decimals produce intentionally different sizes.
	base := 0.123456
	perp := RoundSize(base, 3)
	spot := RoundSize(base, 5)
	if perp == spot {
		t.Fatalf("expected per-leg rounding to differ, both %v", perp)
	}
}

func TestEncodeOrderActionDeterministic(t *testing.T) {
	order, err := LimitOrderWire(1, true, 2.5, 100.0, false, TifIoc, "")
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
}

func TestEncodeUpdateLeverageAction(t *testing.T) {
	payload, err := EncodeUpdateLeverageAction(UpdateLeverageAction{Type: "updateLeverage", Asset: 3, IsCross: false, Leverage: 1})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	var decoded map[string]any
	if err := msgpack.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if decoded["type"] != "updateLeverage" {
		t.Fatalf("unexpected type %v", decoded["type"])
	}
	if decoded["isCross"] != false {
		t.Fatalf("expected isolated margin, got %v", decoded["isCross"])
	}
	if lev, ok := decoded["leverage"].(int8); ok && lev != 1 {
		t.Fatalf("expected leverage 1, got %v", lev)
	}
}

func TestSignerRecover(t *testing.T) {
	signer, err := NewSigner(testKey, true)
	if err != nil {
		t.Fatalf("signer error: %v", err)
	}
	order, err := LimitOrderWire(1, true, 2.5, 100.0, false, TifIoc, "")
	if err != nil {
		t.Fatalf("order wire error: %v", err)
	}
	action := OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"}
	payload, err := EncodeOrderAction(action)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	nonce := uint64(1700000000000)
	sig, err := signer.SignAction(payload, nonce, nil, nil)
	if err != nil {
		t.Fatalf("sign error: %v", err)
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

func TestSignActionDeterministic(t *testing.T) {
	signer, err := NewSigner(testKey, true)
	if err != nil {
		t.Fatalf("signer error: %v", err)
	}
	payload := []byte{0x83, 0x01, 0x02, 0x03}
	sig1, err := signer.SignAction(payload, 1, nil, nil)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	sig2, err := signer.SignAction(payload, 1, nil, nil)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	if sig1 != sig2 {
		t.Fatalf("signatures differ for identical input")
	}
	sig3, err := signer.SignAction(payload, 2, nil, nil)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	if sig1 == sig3 {
		t.Fatalf("nonce must change the signature")
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
