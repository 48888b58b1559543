package chains

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI fragments for the contracts the coordinator reads and calls.
// Kept as JSON literals so go-ethereum parses and validates them at init.

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

const safeABIJSON = `[
	{"inputs":[],"name":"getOwners","outputs":[{"name":"","type":"address[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getThreshold","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[
		{"name":"_owners","type":"address[]"},
		{"name":"_threshold","type":"uint256"},
		{"name":"to","type":"address"},
		{"name":"data","type":"bytes"},
		{"name":"fallbackHandler","type":"address"},
		{"name":"paymentToken","type":"address"},
		{"name":"payment","type":"uint256"},
		{"name":"paymentReceiver","type":"address"}
	],"name":"setup","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const proxyFactoryABIJSON = `[
	{"inputs":[
		{"name":"_singleton","type":"address"},
		{"name":"initializer","type":"bytes"},
		{"name":"saltNonce","type":"uint256"}
	],"name":"createProxyWithNonce","outputs":[{"name":"proxy","type":"address"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"proxyCreationCode","outputs":[{"name":"","type":"bytes"}],"stateMutability":"pure","type":"function"}
]`

const spokePoolABIJSON = `[
	{"inputs":[
		{"name":"depositor","type":"address"},
		{"name":"recipient","type":"address"},
		{"name":"inputToken","type":"address"},
		{"name":"outputToken","type":"address"},
		{"name":"inputAmount","type":"uint256"},
		{"name":"outputAmount","type":"uint256"},
		{"name":"destinationChainId","type":"uint256"},
		{"name":"exclusiveRelayer","type":"address"},
		{"name":"quoteTimestamp","type":"uint32"},
		{"name":"fillDeadline","type":"uint32"},
		{"name":"exclusivityDeadline","type":"uint32"},
		{"name":"message","type":"bytes"}
	],"name":"depositV3","outputs":[],"stateMutability":"payable","type":"function"}
]`

const vaultABIJSON = `[
	{"inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"name":"deposit","outputs":[{"name":"shares","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

var (
	ERC20ABI        = mustABI(erc20ABIJSON)
	SafeABI         = mustABI(safeABIJSON)
	ProxyFactoryABI = mustABI(proxyFactoryABIJSON)
	SpokePoolABI    = mustABI(spokePoolABIJSON)
	VaultABI        = mustABI(vaultABIJSON)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("invalid ABI literal: " + err.Error())
	}
	return parsed
}
