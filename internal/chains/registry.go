// Package chains provides the static chain registry and the RPC access layer
// used by every on-chain read and write in the treasury coordinator.
package chains

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"treasury-backend/internal/config"
	"treasury-backend/internal/treasury"
)

// Descriptor describes one supported network. Descriptors are immutable after
// registry construction.
type Descriptor struct {
	ChainID        uint64         `json:"chain_id"`
	Name           string         `json:"name"`
	RPCEndpoints   []string       `json:"rpc_endpoints"` // priority ordered
	NativeDecimals uint8          `json:"native_decimals"`
	USDCAddress    common.Address `json:"usdc_address"`
	// SpokePool is the Across entry contract. The zero address means the
	// chain is not served by Across.
	SpokePool        common.Address `json:"spoke_pool"`
	MulticallHandler common.Address `json:"multicall_handler"`
	AccountFactory   common.Address `json:"account_factory"`
	ExplorerURL      string         `json:"explorer_url"`
}

// HasSpokePool reports whether Across serves this chain.
func (d *Descriptor) HasSpokePool() bool {
	return d.SpokePool != (common.Address{})
}

// Registry is the static chain registry. Exactly one descriptor per supported
// chain id.
type Registry struct {
	byID map[uint64]*Descriptor
	ids  []uint64
}

// NewRegistry builds a registry from descriptors, validating the invariants:
// unique chain ids and non-empty RPC endpoint lists.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	r := &Registry{byID: make(map[uint64]*Descriptor, len(descriptors))}

	for i := range descriptors {
		d := descriptors[i]
		if d.ChainID == 0 {
			return nil, fmt.Errorf("chain descriptor %q has no chain id", d.Name)
		}
		if len(d.RPCEndpoints) == 0 {
			return nil, fmt.Errorf("chain %d (%s) has no RPC endpoints", d.ChainID, d.Name)
		}
		if _, exists := r.byID[d.ChainID]; exists {
			return nil, fmt.Errorf("duplicate descriptor for chain %d", d.ChainID)
		}
		r.byID[d.ChainID] = &d
		r.ids = append(r.ids, d.ChainID)
	}

	sort.Slice(r.ids, func(i, j int) bool { return r.ids[i] < r.ids[j] })
	return r, nil
}

// NewRegistryFromConfig builds a registry from the enabled chains in config.
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	var descriptors []Descriptor
	for _, chain := range cfg.Chains {
		if !chain.Enabled {
			continue
		}
		descriptors = append(descriptors, Descriptor{
			ChainID:          chain.ChainID,
			Name:             chain.Name,
			RPCEndpoints:     chain.RPCEndpoints,
			NativeDecimals:   chain.NativeDecimals,
			USDCAddress:      common.HexToAddress(chain.USDCContract),
			SpokePool:        common.HexToAddress(chain.SpokePoolContract),
			MulticallHandler: common.HexToAddress(chain.MulticallHandlerContract),
			AccountFactory:   common.HexToAddress(chain.AccountFactoryContract),
			ExplorerURL:      chain.ExplorerURL,
		})
	}
	return NewRegistry(descriptors)
}

// Get returns the descriptor for a chain id
func (r *Registry) Get(chainID uint64) (*Descriptor, error) {
	d, ok := r.byID[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: chain %d", treasury.ErrUnsupportedChain, chainID)
	}
	return d, nil
}

// Supports reports whether a chain id is registered
func (r *Registry) Supports(chainID uint64) bool {
	_, ok := r.byID[chainID]
	return ok
}

// All returns all descriptors ordered by chain id
func (r *Registry) All() []*Descriptor {
	all := make([]*Descriptor, 0, len(r.ids))
	for _, id := range r.ids {
		all = append(all, r.byID[id])
	}
	return all
}

// ChainIDs returns all registered chain ids in ascending order
func (r *Registry) ChainIDs() []uint64 {
	ids := make([]uint64, len(r.ids))
	copy(ids, r.ids)
	return ids
}
