package registry

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Overlay models configs/registry.yaml: extra chains, tokens and contract
// deployments merged on top of the built-in tables.
type Overlay struct {
	Chains    []ChainInfo                  `yaml:"chains"`
	Tokens    map[uint64][]TokenDefinition `yaml:"tokens"`
	Contracts map[string]map[uint64]string `yaml:"contracts"`
}

// TokenDefinition is the YAML form of a token; an empty or "native" address
// marks the chain's native asset.
type TokenDefinition struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// Load reads an overlay file and merges it over Default. An empty path
// returns the defaults.
func Load(path string) (Registry, error) {
	reg := Default()
	if strings.TrimSpace(path) == "" {
		return reg, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Registry{}, fmt.Errorf("读取注册表配置失败: %w", err)
	}
	var overlay Overlay
	if err := yaml.Unmarshal(content, &overlay); err != nil {
		return Registry{}, fmt.Errorf("解析注册表配置失败: %w", err)
	}
	return reg.Merge(overlay)
}

// Merge returns a copy of r with the overlay applied. Entries with the same
// key replace the existing ones.
func (r Registry) Merge(overlay Overlay) (Registry, error) {
	out := r.Clone()
	for _, chain := range overlay.Chains {
		if chain.ID == 0 {
			return Registry{}, fmt.Errorf("chain %q has no id", chain.Name)
		}
		for i, alias := range chain.Aliases {
			chain.Aliases[i] = strings.ToLower(strings.TrimSpace(alias))
		}
		out.Chains[chain.ID] = chain
	}
	for chainID, defs := range overlay.Tokens {
		for _, def := range defs {
			token, err := def.toToken(chainID)
			if err != nil {
				return Registry{}, err
			}
			out.addToken(token)
		}
	}
	for protocol, deployments := range overlay.Contracts {
		for chainID, raw := range deployments {
			if !common.IsHexAddress(raw) {
				return Registry{}, fmt.Errorf("contract %s on chain %d has invalid address %q", protocol, chainID, raw)
			}
			out.addContract(protocol, chainID, common.HexToAddress(raw))
		}
	}
	return out, nil
}

func (d TokenDefinition) toToken(chainID uint64) (TokenInfo, error) {
	if strings.TrimSpace(d.Symbol) == "" {
		return TokenInfo{}, fmt.Errorf("token on chain %d has no symbol", chainID)
	}
	if d.Decimals > 77 {
		return TokenInfo{}, fmt.Errorf("token %s on chain %d has unsupported decimals %d", d.Symbol, chainID, d.Decimals)
	}
	addr := NativeAddress
	raw := strings.TrimSpace(d.Address)
	if raw != "" && !strings.EqualFold(raw, "native") {
		if !common.IsHexAddress(raw) {
			return TokenInfo{}, fmt.Errorf("token %s on chain %d has invalid address %q", d.Symbol, chainID, raw)
		}
		addr = common.HexToAddress(raw)
	}
	name := d.Name
	if name == "" {
		name = d.Symbol
	}
	return TokenInfo{Symbol: strings.TrimSpace(d.Symbol), Name: name, Address: addr, Decimals: d.Decimals, ChainID: chainID}, nil
}
