package registry

import "github.com/ethereum/go-ethereum/common"

const (
	ChainEthereum uint64 = 1
	ChainArbitrum uint64 = 42161
	ChainBase     uint64 = 8453
)

type tokenSeed struct {
	symbol   string
	name     string
	address  string
	decimals uint8
}

var defaultTokens = map[uint64][]tokenSeed{
	ChainEthereum: {
		{"ETH", "Ether", "", 18},
		{"WETH", "Wrapped Ether", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", 18},
		{"USDC", "USD Coin", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", 6},
		{"USDT", "Tether USD", "0xdAC17F958D2ee523a2206206994597C13D831ec7", 6},
		{"DAI", "Dai Stablecoin", "0x6B175474E89094C44Da98b954EedeAC495271d0F", 18},
		{"WBTC", "Wrapped BTC", "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", 8},
		{"LINK", "Chainlink", "0x514910771AF9Ca656af840dff83E8264EcF986CA", 18},
		{"UNI", "Uniswap", "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984", 18},
		{"AAVE", "Aave", "0x7Fc66500c84A76Ad7e9c93437bFc5Ac33E2DDaE9", 18},
	},
	ChainArbitrum: {
		{"ETH", "Ether", "", 18},
		{"WETH", "Wrapped Ether", "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", 18},
		{"USDC", "USD Coin", "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", 6},
		{"USDC.e", "Bridged USDC", "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8", 6},
		{"USDT", "Tether USD", "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", 6},
		{"DAI", "Dai Stablecoin", "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", 18},
		{"WBTC", "Wrapped BTC", "0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f", 8},
		{"ARB", "Arbitrum", "0x912CE59144191C1204E64559FE8253a0e49E6548", 18},
	},
	ChainBase: {
		{"ETH", "Ether", "", 18},
		{"WETH", "Wrapped Ether", "0x4200000000000000000000000000000000000006", 18},
		{"USDC", "USD Coin", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", 6},
		{"DAI", "Dai Stablecoin", "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", 18},
		{"cbETH", "Coinbase Wrapped Staked ETH", "0x2Ae3F1Ec7F1F5012CFEab0185bfc7aa3cf0DEc22", 18},
	},
}

var defaultContracts = map[string]map[uint64]string{
	UniswapV3Router: {
		ChainEthereum: "0xE592427A0AEce92De3Edee1F18E0157C05861564",
		ChainArbitrum: "0xE592427A0AEce92De3Edee1F18E0157C05861564",
		ChainBase:     "0x2626664c2603336E57B271c5C0b26F421741e481",
	},
	UniswapV3NftManager: {
		ChainEthereum: "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
		ChainArbitrum: "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
		ChainBase:     "0x03a520b32C04BF3bEEf7BEb72E919cf822Ed34f1",
	},
	UniswapV4PositionManager: {
		ChainEthereum: "0xbD216513d74C8cf14cf4747E6AaA6420FF64ee9e",
		ChainArbitrum: "0xd88F38F930b7952f2DB2432Cb002E7abbF3dD869",
		ChainBase:     "0x7C5f5A4bBd8fD63184577525326123B519429bDc",
	},
	AaveV3Pool: {
		ChainEthereum: "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2",
		ChainArbitrum: "0x794a61358D6845594F94dc1DB02A252b5b4814aD",
		ChainBase:     "0xA238Dd80C259a72e81d7e4664a9801593F98d1c5",
	},
}

var defaultChains = []ChainInfo{
	{ID: ChainEthereum, Name: "Ethereum", Aliases: []string{"ethereum", "eth", "mainnet"}, Explorer: "https://etherscan.io", WrappedNative: "WETH"},
	{ID: ChainArbitrum, Name: "Arbitrum", Aliases: []string{"arbitrum", "arb"}, Explorer: "https://arbiscan.io", WrappedNative: "WETH"},
	{ID: ChainBase, Name: "Base", Aliases: []string{"base"}, Explorer: "https://basescan.org", WrappedNative: "WETH"},
}

// Default returns a fresh copy of the built-in tables for Ethereum, Arbitrum
// and Base.
func Default() Registry {
	reg := Registry{
		Tokens:    make(map[uint64]map[string]TokenInfo, len(defaultTokens)),
		Contracts: make(map[string]map[uint64]common.Address, len(defaultContracts)),
		Chains:    make(map[uint64]ChainInfo, len(defaultChains)),
	}
	for chainID, seeds := range defaultTokens {
		for _, seed := range seeds {
			addr := NativeAddress
			if seed.address != "" {
				addr = common.HexToAddress(seed.address)
			}
			reg.addToken(TokenInfo{Symbol: seed.symbol, Name: seed.name, Address: addr, Decimals: seed.decimals, ChainID: chainID})
		}
	}
	for protocol, deployments := range defaultContracts {
		for chainID, addr := range deployments {
			reg.addContract(protocol, chainID, common.HexToAddress(addr))
		}
	}
	for _, chain := range defaultChains {
		chain.Aliases = append([]string(nil), chain.Aliases...)
		reg.Chains[chain.ID] = chain
	}
	return reg
}

func (r *Registry) addToken(token TokenInfo) {
	if r.Tokens[token.ChainID] == nil {
		r.Tokens[token.ChainID] = make(map[string]TokenInfo)
	}
	r.Tokens[token.ChainID][symbolKey(token.Symbol)] = token
}

func (r *Registry) addContract(protocol string, chainID uint64, addr common.Address) {
	if r.Contracts[protocol] == nil {
		r.Contracts[protocol] = make(map[uint64]common.Address)
	}
	r.Contracts[protocol][chainID] = addr
}
