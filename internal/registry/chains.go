package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	xerrors "IntentForge/internal/errors"
)

const defaultExplorer = "https://etherscan.io"

func symbolKey(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ResolveChain maps a chain alias ("eth", "arbitrum", "base", ...) or a
// decimal chain id to a configured chain id.
func (r Registry) ResolveChain(nameOrID string) (uint64, error) {
	needle := strings.ToLower(strings.TrimSpace(nameOrID))
	if needle == "" {
		return 0, xerrors.New(CodeUnsupportedChain, "chain is required")
	}
	if id, err := strconv.ParseUint(needle, 10, 64); err == nil {
		if _, ok := r.Chains[id]; ok || r.SupportsChain(id) {
			return id, nil
		}
		return 0, xerrors.New(CodeUnsupportedChain, fmt.Sprintf("chain %d is not configured", id))
	}
	for _, chain := range r.Chains {
		if strings.EqualFold(chain.Name, needle) {
			return chain.ID, nil
		}
		for _, alias := range chain.Aliases {
			if alias == needle {
				return chain.ID, nil
			}
		}
	}
	return 0, xerrors.New(CodeUnsupportedChain, fmt.Sprintf("unknown chain %q", nameOrID))
}

// ChainName returns the display name of chainID, or "Chain <id>".
func (r Registry) ChainName(chainID uint64) string {
	if chain, ok := r.Chains[chainID]; ok && chain.Name != "" {
		return chain.Name
	}
	return fmt.Sprintf("Chain %d", chainID)
}

// ExplorerTxURL links a transaction hash on the chain's block explorer.
func (r Registry) ExplorerTxURL(chainID uint64, txHash string) string {
	base := defaultExplorer
	if chain, ok := r.Chains[chainID]; ok && chain.Explorer != "" {
		base = strings.TrimRight(chain.Explorer, "/")
	}
	return base + "/tx/" + txHash
}

// ChainList returns the configured chains ordered by id.
func (r Registry) ChainList() []ChainInfo {
	out := make([]ChainInfo, 0, len(r.Chains))
	for _, chain := range r.Chains {
		out = append(out, chain)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
