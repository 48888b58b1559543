// Package safe implements deterministic Safe account derivation: setup
// initializer encoding, salt construction and CREATE2 address prediction.
// Everything here is a pure function of its inputs; on-chain reads live in
// the chains package.
package safe

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"treasury-backend/internal/chains"
)

// Canonical Safe v1.4.1 deployment addresses. Identical across every chain
// the coordinator supports.
var (
	Singleton       = common.HexToAddress("0x41675C099F32341bf84BFC5382aF534df5C7461a")
	ProxyFactory    = common.HexToAddress("0x4e1DCf7AD4e460CfD30791CCC4F9c8a4f820ec67")
	FallbackHandler = common.HexToAddress("0xfd0732Dc9E303f09fCEf3a7388Ad10A83459Ec99")
)

// AccountConfig is the owner set and signature threshold of an account.
type AccountConfig struct {
	Owners    []common.Address
	Threshold uint64
}

// Validate checks the config invariants: at least one owner, no zero or
// duplicate owners, and a threshold between 1 and the owner count.
func (c AccountConfig) Validate() error {
	if len(c.Owners) == 0 {
		return fmt.Errorf("account config: no owners")
	}
	seen := make(map[common.Address]bool, len(c.Owners))
	for _, owner := range c.Owners {
		if owner == (common.Address{}) {
			return fmt.Errorf("account config: zero address owner")
		}
		if seen[owner] {
			return fmt.Errorf("account config: duplicate owner %s", owner.Hex())
		}
		seen[owner] = true
	}
	if c.Threshold < 1 || c.Threshold > uint64(len(c.Owners)) {
		return fmt.Errorf("account config: threshold %d out of range for %d owners", c.Threshold, len(c.Owners))
	}
	return nil
}

// RecommendedThreshold returns a majority threshold for an owner count.
func RecommendedThreshold(owners int) uint64 {
	if owners <= 1 {
		return 1
	}
	return uint64(owners/2 + 1)
}

// EncodeSetup builds the Safe setup initializer calldata for the config. The
// canonical fallback handler is wired in, no modules, no payment.
func EncodeSetup(cfg AccountConfig) ([]byte, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return chains.SafeABI.Pack("setup",
		cfg.Owners,
		new(big.Int).SetUint64(cfg.Threshold),
		common.Address{},
		[]byte{},
		FallbackHandler,
		common.Address{},
		big.NewInt(0),
		common.Address{},
	)
}

// SaltFromSourceAddress derives the salt nonce from the source account's
// address. Interpreting the address bytes as an integer makes the value
// independent of hex casing.
func SaltFromSourceAddress(source common.Address) *big.Int {
	return new(big.Int).SetBytes(source.Bytes())
}

// Salt computes the CREATE2 salt the proxy factory uses:
// keccak256(keccak256(initializer) ++ uint256(saltNonce)).
func Salt(initializer []byte, saltNonce *big.Int) [32]byte {
	data := append(crypto.Keccak256(initializer), common.LeftPadBytes(saltNonce.Bytes(), 32)...)
	var salt [32]byte
	copy(salt[:], crypto.Keccak256(data))
	return salt
}

// PredictAddress computes the CREATE2 address the factory will deploy to for
// the given initializer and salt nonce. creationCode is the factory's proxy
// creation bytecode as returned by proxyCreationCode(); the singleton address
// is appended as the proxy's constructor argument.
func PredictAddress(factory common.Address, creationCode, initializer []byte, saltNonce *big.Int) common.Address {
	salt := Salt(initializer, saltNonce)
	deploymentData := append(append([]byte{}, creationCode...), common.LeftPadBytes(Singleton.Bytes(), 32)...)
	return crypto.CreateAddress2(factory, salt, crypto.Keccak256(deploymentData))
}

// EncodeCreateProxyWithNonce builds the factory call that deploys the
// account at the predicted address.
func EncodeCreateProxyWithNonce(initializer []byte, saltNonce *big.Int) ([]byte, error) {
	return chains.ProxyFactoryABI.Pack("createProxyWithNonce", Singleton, initializer, saltNonce)
}
