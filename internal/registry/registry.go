package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "IntentForge/internal/errors"
)

// NativeAddress is the sentinel address used for a chain's native asset.
var NativeAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Protocol names understood by ContractAddress.
const (
	UniswapV3Router          = "uniswapV3Router"
	UniswapV3NftManager      = "uniswapV3NftManager"
	UniswapV4PositionManager = "uniswapV4PositionManager"
	AaveV3Pool               = "aaveV3Pool"
)

const (
	CodeUnknownToken        xerrors.Code = "UNKNOWN_TOKEN"
	CodeUnsupportedChain    xerrors.Code = "UNSUPPORTED_CHAIN"
	CodeUnknownProtocol     xerrors.Code = "UNKNOWN_PROTOCOL"
	CodeProtocolNotDeployed xerrors.Code = "PROTOCOL_NOT_DEPLOYED"
)

var (
	// ErrUnknownToken matches lookups that found neither a symbol nor an address.
	ErrUnknownToken = xerrors.New(CodeUnknownToken, "unknown token")
	// ErrUnsupportedChain matches lookups on a chain without configured tokens.
	ErrUnsupportedChain = xerrors.New(CodeUnsupportedChain, "unsupported chain")
	// ErrUnknownProtocol matches protocol names missing from the contract table.
	ErrUnknownProtocol = xerrors.New(CodeUnknownProtocol, "unknown protocol")
	// ErrProtocolNotDeployed matches known protocols missing on the requested chain.
	ErrProtocolNotDeployed = xerrors.New(CodeProtocolNotDeployed, "protocol not deployed on chain")
)

func init() {
	xerrors.Register(CodeUnknownToken, xerrors.Attributes{Message: "unknown token", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeUnsupportedChain, xerrors.Attributes{Message: "unsupported chain", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeUnknownProtocol, xerrors.Attributes{Message: "unknown protocol", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeProtocolNotDeployed, xerrors.Attributes{Message: "protocol not deployed on chain", Severity: xerrors.SeverityInfo})
}

// TokenInfo is the static metadata of a token on one chain.
type TokenInfo struct {
	Symbol   string         `json:"symbol" yaml:"symbol"`
	Name     string         `json:"name" yaml:"name"`
	Address  common.Address `json:"address" yaml:"address"`
	Decimals uint8          `json:"decimals" yaml:"decimals"`
	ChainID  uint64         `json:"chainId" yaml:"-"`
}

// IsNative reports whether the token is the chain's native asset.
func (t TokenInfo) IsNative() bool {
	return t.Address == NativeAddress
}

// ChainInfo describes a supported chain.
type ChainInfo struct {
	ID       uint64   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Aliases  []string `json:"aliases,omitempty" yaml:"aliases"`
	Explorer string   `json:"explorer" yaml:"explorer"`
	// WrappedNative is the symbol substituted for the native asset in AMM calls.
	WrappedNative string `json:"wrappedNative" yaml:"wrapped_native"`
}

// Registry holds the lookup tables. Tokens are keyed by chain id and then by
// upper-cased symbol; contracts by protocol name and then chain id.
type Registry struct {
	Tokens    map[uint64]map[string]TokenInfo
	Contracts map[string]map[uint64]common.Address
	Chains    map[uint64]ChainInfo
}

// ResolveToken finds a token by symbol (case-insensitive) or, when the input
// looks like an address, by address.
func (r Registry) ResolveToken(symbolOrAddress string, chainID uint64) (TokenInfo, error) {
	tokens, ok := r.Tokens[chainID]
	if !ok || len(tokens) == 0 {
		return TokenInfo{}, xerrors.New(CodeUnsupportedChain, fmt.Sprintf("no tokens configured for chain %d", chainID))
	}
	needle := strings.TrimSpace(symbolOrAddress)
	if token, ok := tokens[strings.ToUpper(needle)]; ok {
		return token, nil
	}
	if common.IsHexAddress(needle) {
		addr := common.HexToAddress(needle)
		for _, token := range tokens {
			if token.Address == addr {
				return token, nil
			}
		}
	}
	return TokenInfo{}, xerrors.New(CodeUnknownToken, fmt.Sprintf("token %q not found on chain %d", needle, chainID))
}

// ResolveSwapToken behaves like ResolveToken but returns the wrapped native
// token whenever the input names the native asset.
func (r Registry) ResolveSwapToken(symbolOrAddress string, chainID uint64) (TokenInfo, error) {
	token, err := r.ResolveToken(symbolOrAddress, chainID)
	if err != nil || !token.IsNative() {
		return token, err
	}
	wrapped := "WETH"
	if chain, ok := r.Chains[chainID]; ok && chain.WrappedNative != "" {
		wrapped = chain.WrappedNative
	}
	return r.ResolveToken(wrapped, chainID)
}

// ContractAddress returns the deployment of protocol on chainID.
func (r Registry) ContractAddress(protocol string, chainID uint64) (common.Address, error) {
	deployments, ok := r.Contracts[protocol]
	if !ok {
		return common.Address{}, xerrors.New(CodeUnknownProtocol, fmt.Sprintf("unknown protocol: %s", protocol))
	}
	addr, ok := deployments[chainID]
	if !ok {
		return common.Address{}, xerrors.New(CodeProtocolNotDeployed, fmt.Sprintf("protocol %s not deployed on chain %d", protocol, chainID))
	}
	return addr, nil
}

// SupportsChain reports whether any token is configured for chainID.
func (r Registry) SupportsChain(chainID uint64) bool {
	return len(r.Tokens[chainID]) > 0
}

// TokenSymbols lists the symbols configured for chainID in ascending order.
func (r Registry) TokenSymbols(chainID uint64) []string {
	out := make([]string, 0, len(r.Tokens[chainID]))
	for _, token := range r.Tokens[chainID] {
		out = append(out, token.Symbol)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy so overlays never mutate shared tables.
func (r Registry) Clone() Registry {
	out := Registry{
		Tokens:    make(map[uint64]map[string]TokenInfo, len(r.Tokens)),
		Contracts: make(map[string]map[uint64]common.Address, len(r.Contracts)),
		Chains:    make(map[uint64]ChainInfo, len(r.Chains)),
	}
	for chainID, tokens := range r.Tokens {
		copied := make(map[string]TokenInfo, len(tokens))
		for symbol, token := range tokens {
			copied[symbol] = token
		}
		out.Tokens[chainID] = copied
	}
	for protocol, deployments := range r.Contracts {
		copied := make(map[uint64]common.Address, len(deployments))
		for chainID, addr := range deployments {
			copied[chainID] = addr
		}
		out.Contracts[protocol] = copied
	}
	for chainID, chain := range r.Chains {
		chain.Aliases = append([]string(nil), chain.Aliases...)
		out.Chains[chainID] = chain
	}
	return out
}
