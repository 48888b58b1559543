package chains

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"treasury-backend/internal/treasury"
)

// EthClient is the slice of ethclient.Client the manager needs. Tests supply
// fakes; production always uses dialed clients.
type EthClient interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dialer turns an RPC endpoint URL into a client. Overridable in tests.
type Dialer func(ctx context.Context, endpoint string) (EthClient, error)

func defaultDialer(ctx context.Context, endpoint string) (EthClient, error) {
	return ethclient.DialContext(ctx, endpoint)
}

type cacheEntry struct {
	value   interface{}
	expires time.Time // zero means the entry never expires
}

type chainState struct {
	mu      sync.Mutex
	current int // index into the descriptor's endpoint list
	client  EthClient
}

// RPCManager provides cached, fallback-aware read access to every registered
// chain. Construct one per process and inject it; callers never dial RPC
// endpoints themselves.
type RPCManager struct {
	registry    *Registry
	dial        Dialer
	cacheTTL    time.Duration
	callTimeout time.Duration
	log         *logrus.Entry

	chainsMu sync.Mutex
	chains   map[uint64]*chainState

	cacheMu sync.RWMutex
	cache   map[string]cacheEntry
}

// RPCManagerOption customizes a manager at construction.
type RPCManagerOption func(*RPCManager)

// WithDialer replaces the endpoint dialer, used by tests.
func WithDialer(d Dialer) RPCManagerOption {
	return func(m *RPCManager) { m.dial = d }
}

// WithCacheTTL sets the expiry for cached chain reads.
func WithCacheTTL(ttl time.Duration) RPCManagerOption {
	return func(m *RPCManager) { m.cacheTTL = ttl }
}

// WithCallTimeout bounds each individual RPC call.
func WithCallTimeout(timeout time.Duration) RPCManagerOption {
	return func(m *RPCManager) { m.callTimeout = timeout }
}

// NewRPCManager builds a manager over the given registry.
func NewRPCManager(registry *Registry, opts ...RPCManagerOption) *RPCManager {
	m := &RPCManager{
		registry:    registry,
		dial:        defaultDialer,
		cacheTTL:    30 * time.Second,
		callTimeout: 12 * time.Second,
		log:         logrus.WithField("component", "rpc_manager"),
		chains:      make(map[uint64]*chainState),
		cache:       make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the chain registry the manager was built over.
func (m *RPCManager) Registry() *Registry {
	return m.registry
}

func (m *RPCManager) state(chainID uint64) *chainState {
	m.chainsMu.Lock()
	defer m.chainsMu.Unlock()
	st, ok := m.chains[chainID]
	if !ok {
		st = &chainState{}
		m.chains[chainID] = st
	}
	return st
}

// withClient runs fn against the chain's current endpoint, advancing to the
// next endpoint and retrying when the endpoint itself fails. Errors the node
// answered with, like a missing receipt or an execution revert, mean the
// endpoint is healthy and are returned to the caller untouched. Every
// endpoint is tried at most once per invocation; a working endpoint stays
// selected for later calls. fn receives a context bounded by the per-call
// timeout.
func (m *RPCManager) withClient(ctx context.Context, chainID uint64, fn func(context.Context, EthClient) error) error {
	desc, err := m.registry.Get(chainID)
	if err != nil {
		return err
	}
	st := m.state(chainID)
	st.mu.Lock()
	defer st.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < len(desc.RPCEndpoints); attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		endpoint := desc.RPCEndpoints[st.current]
		if st.client == nil {
			client, dialErr := m.dial(ctx, endpoint)
			if dialErr != nil {
				m.log.WithFields(logrus.Fields{
					"chain_id": chainID,
					"endpoint": endpoint,
				}).WithError(dialErr).Warn("RPC endpoint dial failed, rotating")
				lastErr = dialErr
				st.current = (st.current + 1) % len(desc.RPCEndpoints)
				continue
			}
			st.client = client
		}

		callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
		err := fn(callCtx, st.client)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isTransportError(err) {
			return err
		}
		lastErr = err
		m.log.WithFields(logrus.Fields{
			"chain_id": chainID,
			"endpoint": endpoint,
		}).WithError(err).Warn("RPC call failed, rotating endpoint")
		st.client = nil
		st.current = (st.current + 1) % len(desc.RPCEndpoints)
	}
	return fmt.Errorf("%w: chain %d: %w", treasury.ErrAllEndpointsFailed, chainID, lastErr)
}

// isTransportError separates endpoint failures, which warrant rotating to
// the next endpoint, from answers the node produced. A JSON-RPC error
// response proves the endpoint is reachable and working.
func isTransportError(err error) bool {
	if errors.Is(err, ethereum.NotFound) {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return false
	}
	return true
}

func cacheKey(chainID uint64, op string, args ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%s", chainID, op)
	for _, a := range args {
		b.WriteByte(':')
		b.WriteString(strings.ToLower(a))
	}
	return b.String()
}

func (m *RPCManager) cached(key string) (interface{}, bool) {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	entry, ok := m.cache[key]
	if !ok {
		return nil, false
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.value, true
}

func (m *RPCManager) store(key string, value interface{}, ttl time.Duration) {
	entry := cacheEntry{value: value}
	if ttl > 0 {
		entry.expires = time.Now().Add(ttl)
	}
	m.cacheMu.Lock()
	m.cache[key] = entry
	m.cacheMu.Unlock()
}

// InvalidateChain drops every cached read for a chain. Used after sending a
// transaction that changes state the cache may hold.
func (m *RPCManager) InvalidateChain(chainID uint64) {
	prefix := fmt.Sprintf("%d:", chainID)
	m.cacheMu.Lock()
	for key := range m.cache {
		if strings.HasPrefix(key, prefix) {
			delete(m.cache, key)
		}
	}
	m.cacheMu.Unlock()
}

// GetBytecode returns the deployed code at an address. Cached with the
// standard TTL; an empty result is cached too so repeated not-yet-deployed
// checks stay cheap.
func (m *RPCManager) GetBytecode(ctx context.Context, chainID uint64, address common.Address) ([]byte, error) {
	key := cacheKey(chainID, "code", address.Hex())
	if v, ok := m.cached(key); ok {
		return v.([]byte), nil
	}
	var code []byte
	err := m.withClient(ctx, chainID, func(callCtx context.Context, c EthClient) error {
		var err error
		code, err = c.CodeAt(callCtx, address, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.store(key, code, m.cacheTTL)
	return code, nil
}

// IsContract reports whether an address has deployed code.
func (m *RPCManager) IsContract(ctx context.Context, chainID uint64, address common.Address) (bool, error) {
	code, err := m.GetBytecode(ctx, chainID, address)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

// ReadContract performs an eth_call against a contract using the given parsed
// ABI and returns the unpacked outputs. Results are cached with the standard
// TTL keyed by chain, address, method and packed args.
func (m *RPCManager) ReadContract(ctx context.Context, chainID uint64, address common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	key := cacheKey(chainID, "call", address.Hex(), method, common.Bytes2Hex(input))
	if v, ok := m.cached(key); ok {
		return v.([]interface{}), nil
	}

	var output []byte
	err = m.withClient(ctx, chainID, func(callCtx context.Context, c EthClient) error {
		var err error
		output, err = c.CallContract(callCtx, ethereum.CallMsg{To: &address, Data: input}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	values, err := contractABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	m.store(key, values, m.cacheTTL)
	return values, nil
}

// TokenDecimals returns an ERC-20 token's decimals. Decimals never change, so
// the value is cached without expiry.
func (m *RPCManager) TokenDecimals(ctx context.Context, chainID uint64, token common.Address) (uint8, error) {
	key := cacheKey(chainID, "decimals", token.Hex())
	if v, ok := m.cached(key); ok {
		return v.(uint8), nil
	}
	values, err := m.ReadContract(ctx, chainID, token, ERC20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", values[0])
	}
	m.store(key, decimals, 0)
	return decimals, nil
}

// TokenBalance returns an ERC-20 balance in raw token units.
func (m *RPCManager) TokenBalance(ctx context.Context, chainID uint64, token, holder common.Address) (*big.Int, error) {
	values, err := m.ReadContract(ctx, chainID, token, ERC20ABI, "balanceOf", holder)
	if err != nil {
		return nil, err
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected type %T", values[0])
	}
	return balance, nil
}

// Balance holds a raw on-chain amount alongside its human-readable form.
type Balance struct {
	Raw       *big.Int `json:"raw"`
	Formatted string   `json:"formatted"`
	Decimals  uint8    `json:"decimals"`
}

// GetBalance returns the native balance of an address, raw and formatted with
// the chain's native decimals. Cached with the standard TTL.
func (m *RPCManager) GetBalance(ctx context.Context, chainID uint64, address common.Address) (*Balance, error) {
	desc, err := m.registry.Get(chainID)
	if err != nil {
		return nil, err
	}
	key := cacheKey(chainID, "balance", address.Hex())
	if v, ok := m.cached(key); ok {
		return v.(*Balance), nil
	}
	var raw *big.Int
	err = m.withClient(ctx, chainID, func(callCtx context.Context, c EthClient) error {
		var err error
		raw, err = c.BalanceAt(callCtx, address, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	balance := &Balance{
		Raw:       raw,
		Formatted: FormatUnits(raw, desc.NativeDecimals),
		Decimals:  desc.NativeDecimals,
	}
	m.store(key, balance, m.cacheTTL)
	return balance, nil
}

// BlockNumber returns the latest block number. Never cached.
func (m *RPCManager) BlockNumber(ctx context.Context, chainID uint64) (uint64, error) {
	var number uint64
	err := m.withClient(ctx, chainID, func(callCtx context.Context, c EthClient) error {
		var err error
		number, err = c.BlockNumber(callCtx)
		return err
	})
	return number, err
}

// WaitForTransaction polls for a receipt until the transaction is mined or
// the context ends. Receipts are never cached.
func (m *RPCManager) WaitForTransaction(ctx context.Context, chainID uint64, txHash common.Hash, pollInterval time.Duration) (*types.Receipt, error) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		var receipt *types.Receipt
		err := m.withClient(ctx, chainID, func(callCtx context.Context, c EthClient) error {
			var err error
			receipt, err = c.TransactionReceipt(callCtx, txHash)
			return err
		})
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SafeOwners reads the owner set of a deployed Safe account.
func (m *RPCManager) SafeOwners(ctx context.Context, chainID uint64, safe common.Address) ([]common.Address, error) {
	values, err := m.ReadContract(ctx, chainID, safe, SafeABI, "getOwners")
	if err != nil {
		return nil, err
	}
	owners, ok := values[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("getOwners: unexpected type %T", values[0])
	}
	return owners, nil
}

// SafeThreshold reads the signature threshold of a deployed Safe account.
func (m *RPCManager) SafeThreshold(ctx context.Context, chainID uint64, safe common.Address) (uint64, error) {
	values, err := m.ReadContract(ctx, chainID, safe, SafeABI, "getThreshold")
	if err != nil {
		return 0, err
	}
	threshold, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("getThreshold: unexpected type %T", values[0])
	}
	return threshold.Uint64(), nil
}

// ProxyCreationCode fetches the proxy creation bytecode from the account
// factory. The code is part of the factory's immutable deployment, so it is
// cached without expiry.
func (m *RPCManager) ProxyCreationCode(ctx context.Context, chainID uint64, factory common.Address) ([]byte, error) {
	key := cacheKey(chainID, "proxy_creation_code", factory.Hex())
	if v, ok := m.cached(key); ok {
		return v.([]byte), nil
	}
	values, err := m.ReadContract(ctx, chainID, factory, ProxyFactoryABI, "proxyCreationCode")
	if err != nil {
		return nil, err
	}
	code, ok := values[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("proxyCreationCode: unexpected type %T", values[0])
	}
	m.store(key, code, 0)
	return code, nil
}

// FormatUnits renders a raw integer amount as a decimal string with the given
// number of fractional digits, trimming trailing zeros.
func FormatUnits(raw *big.Int, decimals uint8) string {
	if raw == nil {
		return "0"
	}
	if decimals == 0 {
		return raw.String()
	}
	// Format the magnitude and emit the sign separately, otherwise amounts
	// between -1 and 0 lose it to the zero whole part.
	sign := ""
	if raw.Sign() < 0 {
		sign = "-"
	}
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(new(big.Int).Abs(raw), divisor, new(big.Int))
	if frac.Sign() == 0 {
		return sign + whole.String()
	}
	fracStr := strings.TrimRight(fmt.Sprintf("%0*s", decimals, frac.String()), "0")
	return sign + whole.String() + "." + fracStr
}
