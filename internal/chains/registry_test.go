package chains

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury-backend/internal/config"
	"treasury-backend/internal/treasury"
)

func testDescriptors() []Descriptor {
	return []Descriptor{
		{ChainID: 8453, Name: "Base", RPCEndpoints: []string{"https://a", "https://b"}, NativeDecimals: 18,
			SpokePool: common.HexToAddress("0x09aea4b2242abC8bb4BB78D537A67a245A7bEC64")},
		{ChainID: 10, Name: "OP Mainnet", RPCEndpoints: []string{"https://c"}, NativeDecimals: 18},
	}
}

func TestNewRegistryValidation(t *testing.T) {
	tests := []struct {
		name        string
		descriptors []Descriptor
		wantErr     string
	}{
		{
			name:        "valid",
			descriptors: testDescriptors(),
		},
		{
			name: "missing chain id",
			descriptors: []Descriptor{
				{Name: "broken", RPCEndpoints: []string{"https://a"}},
			},
			wantErr: "no chain id",
		},
		{
			name: "no endpoints",
			descriptors: []Descriptor{
				{ChainID: 1, Name: "bare"},
			},
			wantErr: "no RPC endpoints",
		},
		{
			name: "duplicate chain id",
			descriptors: []Descriptor{
				{ChainID: 1, Name: "one", RPCEndpoints: []string{"https://a"}},
				{ChainID: 1, Name: "also one", RPCEndpoints: []string{"https://b"}},
			},
			wantErr: "duplicate descriptor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.descriptors)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestRegistryLookups(t *testing.T) {
	registry, err := NewRegistry(testDescriptors())
	require.NoError(t, err)

	desc, err := registry.Get(8453)
	require.NoError(t, err)
	assert.Equal(t, "Base", desc.Name)
	assert.True(t, desc.HasSpokePool())

	desc, err = registry.Get(10)
	require.NoError(t, err)
	assert.False(t, desc.HasSpokePool())

	_, err = registry.Get(999)
	assert.True(t, errors.Is(err, treasury.ErrUnsupportedChain))

	assert.True(t, registry.Supports(8453))
	assert.False(t, registry.Supports(999))

	assert.Equal(t, []uint64{10, 8453}, registry.ChainIDs())
	all := registry.All()
	require.Len(t, all, 2)
	assert.Equal(t, uint64(10), all[0].ChainID)
}

func TestNewRegistryFromConfigSkipsDisabled(t *testing.T) {
	cfg := &config.Config{
		Chains: map[string]config.ChainConfig{
			"base": {
				ChainID:      8453,
				Name:         "Base",
				RPCEndpoints: []string{"https://mainnet.base.org"},
				Enabled:      true,
			},
			"testnet": {
				ChainID:      84532,
				Name:         "Base Sepolia",
				RPCEndpoints: []string{"https://sepolia.base.org"},
				Enabled:      false,
			},
		},
	}

	registry, err := NewRegistryFromConfig(cfg)
	require.NoError(t, err)
	assert.True(t, registry.Supports(8453))
	assert.False(t, registry.Supports(84532))
}
