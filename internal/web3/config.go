package web3

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPollInterval is used when a chain definition omits poll_interval.
const DefaultPollInterval = 2 * time.Second

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	ChainID      uint64 `yaml:"chain_id"`
	Type         string `yaml:"type"`
	RPCURL       string `yaml:"rpc_url"`
	WSURL        string `yaml:"ws_url"`
	PollInterval string `yaml:"poll_interval"`
	Description  string `yaml:"description"`
}

// Poll returns the receipt polling interval of the chain.
func (d ChainDefinition) Poll() (time.Duration, error) {
	raw := strings.TrimSpace(d.PollInterval)
	if raw == "" {
		return DefaultPollInterval, nil
	}
	interval, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("解析轮询间隔失败: %w", err)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("轮询间隔必须为正数: %s", raw)
	}
	return interval, nil
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, def := range defs.Chains {
		if def.ChainID == 0 {
			return ChainDefinitions{}, fmt.Errorf("链 %s 缺少 chain_id", name)
		}
		if _, err := def.Poll(); err != nil {
			return ChainDefinitions{}, fmt.Errorf("链 %s: %w", name, err)
		}
	}
	return defs, nil
}
