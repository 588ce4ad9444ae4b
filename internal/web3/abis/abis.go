// Package abis holds the contract ABIs the compiler encodes against and the
// chain adapters decode with.
package abis

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20JSON = `[
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const uniswapV3RouterJSON = `[
 {"type":"function","name":"exactInputSingle","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[
  {"name":"tokenIn","type":"address"},
  {"name":"tokenOut","type":"address"},
  {"name":"fee","type":"uint24"},
  {"name":"recipient","type":"address"},
  {"name":"deadline","type":"uint256"},
  {"name":"amountIn","type":"uint256"},
  {"name":"amountOutMinimum","type":"uint256"},
  {"name":"sqrtPriceLimitX96","type":"uint160"}]}],
  "outputs":[{"name":"amountOut","type":"uint256"}]}
]`

const nonfungiblePositionManagerJSON = `[
 {"type":"function","name":"mint","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[
  {"name":"token0","type":"address"},
  {"name":"token1","type":"address"},
  {"name":"fee","type":"uint24"},
  {"name":"tickLower","type":"int24"},
  {"name":"tickUpper","type":"int24"},
  {"name":"amount0Desired","type":"uint256"},
  {"name":"amount1Desired","type":"uint256"},
  {"name":"amount0Min","type":"uint256"},
  {"name":"amount1Min","type":"uint256"},
  {"name":"recipient","type":"address"},
  {"name":"deadline","type":"uint256"}]}],
  "outputs":[{"name":"tokenId","type":"uint256"},{"name":"liquidity","type":"uint128"},{"name":"amount0","type":"uint256"},{"name":"amount1","type":"uint256"}]}
]`

const v4PositionManagerJSON = `[
 {"type":"function","name":"modifyLiquidities","stateMutability":"payable","inputs":[{"name":"unlockData","type":"bytes"},{"name":"deadline","type":"uint256"}],"outputs":[]}
]`

const aaveV3PoolJSON = `[
 {"type":"function","name":"supply","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
 {"type":"function","name":"borrow","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"interestRateMode","type":"uint256"},{"name":"referralCode","type":"uint16"},{"name":"onBehalfOf","type":"address"}],"outputs":[]},
 {"type":"function","name":"repay","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"interestRateMode","type":"uint256"},{"name":"onBehalfOf","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const merkleDistributorJSON = `[
 {"type":"function","name":"claim","stateMutability":"nonpayable","inputs":[{"name":"index","type":"uint256"},{"name":"account","type":"address"},{"name":"amount","type":"uint256"},{"name":"merkleProof","type":"bytes32[]"}],"outputs":[]},
 {"type":"function","name":"isClaimed","stateMutability":"view","inputs":[{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	ERC20                      = mustParse("erc20", erc20JSON)
	UniswapV3Router            = mustParse("uniswapV3Router", uniswapV3RouterJSON)
	NonfungiblePositionManager = mustParse("nonfungiblePositionManager", nonfungiblePositionManagerJSON)
	V4PositionManager          = mustParse("v4PositionManager", v4PositionManagerJSON)
	AaveV3Pool                 = mustParse("aaveV3Pool", aaveV3PoolJSON)
	MerkleDistributor          = mustParse("merkleDistributor", merkleDistributorJSON)
)

func mustParse(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("abis: parse " + name + ": " + err.Error())
	}
	return parsed
}

// Arguments builds an argument list from bare type names such as
// "address" or "bytes[]", for abi.encode style payloads.
func Arguments(types ...string) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(types))
	for _, typ := range types {
		t, err := abi.NewType(typ, "", nil)
		if err != nil {
			return nil, err
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args, nil
}
