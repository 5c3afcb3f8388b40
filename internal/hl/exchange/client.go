// Package exchange is the write side of the venue connector: signed order,
// cancel, leverage, and transfer actions posted through the shared rate-limited
// REST transport. Nonces are monotonic and persisted so a restart cannot
// replay or regress them.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Transport posts a JSON payload to the venue. Satisfied by the rest.Client
// so exchange traffic shares its rate limiter and retry policy.
type Transport interface {
	Post(ctx context.Context, path string, req interface{}) (map[string]any, error)
}

type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type Client struct {
	transport     Transport
	signer        *Signer
	vaultAddress  *common.Address
	lastNonce     atomic.Uint64
	lastPersisted atomic.Uint64
	nonceStore    NonceStore
	nonceKey      string
	log           *zap.Logger
	persistMu     sync.Mutex
	persistWarned atomic.Bool
}

type NonceState struct {
	Key       string
	Last      uint64
	Persisted uint64
}

func NewClient(transport Transport, signer *Signer, vaultAddress string) (*Client, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	var vault *common.Address
	if strings.TrimSpace(vaultAddress) != "" {
		addr := common.HexToAddress(vaultAddress)
		vault = &addr
	}
	return &Client{
		transport: transport,
		signer:    signer,
		vaultAddress: vault,
	}, nil
}

func (c *Client) SetLogger(log *zap.Logger) {
	c.log = log
}

// PlaceOrder submits one signed limit order and returns its parsed status.
// The returned status, not the HTTP acknowledgment, decides whether the order
// filled, rested, or was rejected.
func (c *Client) PlaceOrder(ctx context.Context, order OrderWire) (OrderStatus, error) {
	action := OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"}
	payload, err := EncodeOrderAction(action)
	if err != nil {
		return OrderStatus{}, err
	}
	resp, err := c.postSigned(ctx, action, payload)
	if err != nil {
		return OrderStatus{}, err
	}
	statuses := OrderStatusesFromResponse(resp)
	if len(statuses) == 0 {
		return OrderStatus{}, errors.New("no order status in exchange response")
	}
	return statuses[0], nil
}

func (c *Client) CancelOrder(ctx context.Context, asset int, orderID int64) error {
	action := CancelAction{Type: "cancel", Cancels: []CancelWire{{Asset: asset, OrderID: orderID}}}
	payload, err := EncodeCancelAction(action)
	if err != nil {
		return err
	}
	_, err = c.postSigned(ctx, action, payload)
	return err
}

// UpdateLeverage sets the margin mode and multiplier for one asset.
func (c *Client) UpdateLeverage(ctx context.Context, asset, leverage int, isCross bool) error {
	action := UpdateLeverageAction{Type: "updateLeverage", Asset: asset, IsCross: isCross, Leverage: leverage}
	payload, err := EncodeUpdateLeverageAction(action)
	if err != nil {
		return err
	}
	_, err = c.postSigned(ctx, action, payload)
	return err
}

// USDClassTransfer moves collateral between the perp and spot wallets.
func (c *Client) USDClassTransfer(ctx context.Context, amount float64, toPerp bool) error {
	if amount <= 0 {
		return errors.New("amount must be > 0")
	}
	amountStr := strconv.FormatFloat(amount, 'f', -1, 64)
	if c.vaultAddress != nil {
		amountStr += " subaccount:" + c.vaultAddress.Hex()
	}
	nonce := c.nextNonce()
	action := USDClassTransferAction{
		Type:   "usdClassTransfer",
		Amount: amountStr,
		ToPerp: toPerp,
		Nonce:  nonce,
	}
	sig, err := c.signer.SignUSDClassTransfer(&action)
	if err != nil {
		return err
	}
	payload := SignedAction{Action: action, Nonce: action.Nonce, Signature: sig}
	_, err = c.transport.Post(ctx, "/exchange", payload)
	return err
}

func (c *Client) postSigned(ctx context.Context, action any, actionBytes []byte) (map[string]any, error) {
	nonce := c.nextNonce()
	sig, err := c.signer.SignAction(actionBytes, nonce, c.vaultAddress, nil)
	if err != nil {
		return nil, err
	}
	var vaultAddress *string
	if c.vaultAddress != nil {
		addr := c.vaultAddress.Hex()
		vaultAddress = &addr
	}
	payload := SignedAction{
		Action:       action,
		Nonce:        nonce,
		Signature:    sig,
		VaultAddress: vaultAddress,
		ExpiresAfter: nil,
	}
	return c.transport.Post(ctx, "/exchange", payload)
}

func (c *Client) InitNonceStore(ctx context.Context, store NonceStore) error {
	if store == nil {
		return nil
	}
	if c.signer == nil {
		return errors.New("signer is required for nonce store")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key := nonceStoreKey(c.signer, c.vaultAddress)
	now := uint64(time.Now().UnixMilli())
	seed := now
	if raw, ok, err := store.Get(ctx, key); err != nil {
		return err
	} else if ok {
		parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stored nonce %q: %w", raw, err)
		}
		if parsed > seed {
			seed = parsed
		}
	}
	if current := c.lastNonce.Load(); current > seed {
		seed = current
	}
	c.nonceStore = store
	c.nonceKey = key
	c.lastNonce.Store(seed)
	c.lastPersisted.Store(seed)
	return nil
}

func (c *Client) NonceState() (NonceState, bool) {
	if c.nonceStore == nil || c.nonceKey == "" {
		return NonceState{}, false
	}
	return NonceState{
		Key:       c.nonceKey,
		Last:      c.lastNonce.Load(),
		Persisted: c.lastPersisted.Load(),
	}, true
}

func (c *Client) nextNonce() uint64 {
	now := uint64(time.Now().UnixMilli())
	for {
		prev := c.lastNonce.Load()
		next := now
		if prev >= next {
			next = prev + 1
		}
		if c.lastNonce.CompareAndSwap(prev, next) {
			c.persistNonce(next)
			return next
		}
	}
}

func (c *Client) persistNonce(nonce uint64) {
	if c.nonceStore == nil || c.nonceKey == "" {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if nonce <= c.lastPersisted.Load() {
		return
	}
	if err := c.nonceStore.Set(context.Background(), c.nonceKey, strconv.FormatUint(nonce, 10)); err != nil {
		c.logPersistError(err)
		return
	}
	c.lastPersisted.Store(nonce)
	c.persistWarned.Store(false)
}

func (c *Client) logPersistError(err error) {
	if c.log == nil {
		return
	}
	if c.persistWarned.CompareAndSwap(false, true) {
		c.log.Warn("nonce persistence failed", zap.String("nonce_key", c.nonceKey), zap.Error(err))
	}
}

func nonceStoreKey(signer *Signer, vaultAddress *common.Address) string {
	addr := "unknown"
	if signer != nil {
		addr = strings.ToLower(signer.Address().Hex())
	}
	vault := "none"
	if vaultAddress != nil {
		vault = strings.ToLower(vaultAddress.Hex())
	}
	return fmt.Sprintf("exchange:nonce:%s:%s", addr, vault)
}
