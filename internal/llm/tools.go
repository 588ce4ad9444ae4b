package llm

import "IntentForge/internal/intent"

// Property 是工具参数的 JSON Schema 片段。
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
}

// Parameters 是工具参数的 JSON Schema 对象。
type Parameters struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Tool 是与提供方无关的工具定义。
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  Parameters  `json:"parameters"`
	Kind        intent.Kind `json:"-"`
}

func str(description string) Property {
	return Property{Type: "string", Description: description}
}

func num(description string, def any) Property {
	return Property{Type: "number", Description: description, Default: def}
}

func object(required []string, props map[string]Property) Parameters {
	return Parameters{Type: "object", Properties: props, Required: required}
}

var tools = []Tool{
	{
		Name:        "swap_tokens",
		Kind:        intent.KindSwap,
		Description: "Swap one token for another using Uniswap V3. Use when the user wants to exchange, swap, or trade tokens.",
		Parameters: object([]string{"tokenIn", "tokenOut", "amount"}, map[string]Property{
			"tokenIn":  str(`Symbol of the input token (e.g., "ETH", "USDC", "WBTC")`),
			"tokenOut": str(`Symbol of the output token (e.g., "USDC", "ETH", "DAI")`),
			"amount":   str(`Amount of tokenIn to swap in human-readable format (e.g., "1.5", "100")`),
			"slippage": num("Slippage tolerance as percentage. Default 0.5", 0.5),
		}),
	},
	{
		Name:        "transfer_token",
		Kind:        intent.KindTransfer,
		Description: "Transfer tokens (ETH or ERC20) to another address. Use when the user wants to send tokens to someone.",
		Parameters: object([]string{"token", "to", "amount"}, map[string]Property{
			"token":  str(`Symbol of the token to transfer (e.g., "ETH", "USDC")`),
			"to":     str("Recipient wallet address (0x...)"),
			"amount": str("Amount to transfer in human-readable format"),
		}),
	},
	{
		Name:        "approve_token",
		Kind:        intent.KindApprove,
		Description: "Approve a spender contract to use your ERC20 tokens. Use before swapping or supplying to protocols.",
		Parameters: object([]string{"token", "spender"}, map[string]Property{
			"token":   str("Symbol of the token to approve"),
			"spender": str("Address of the spender contract (0x...)"),
			"amount":  str(`Amount to approve. Use "max" for unlimited approval.`),
		}),
	},
	{
		Name:        "supply_aave",
		Kind:        intent.KindSupplyAave,
		Description: "Supply (deposit) tokens to Aave V3 lending pool to earn interest. Use when user wants to lend, deposit, or supply tokens to Aave.",
		Parameters: object([]string{"token", "amount"}, map[string]Property{
			"token":  str(`Symbol of the token to supply (e.g., "USDC", "WETH")`),
			"amount": str("Amount to supply in human-readable format"),
		}),
	},
	{
		Name:        "borrow_aave",
		Kind:        intent.KindBorrowAave,
		Description: "Borrow tokens from Aave V3 against your collateral. Use when user wants to borrow from Aave.",
		Parameters: object([]string{"token", "amount"}, map[string]Property{
			"token":            str("Symbol of the token to borrow"),
			"amount":           str("Amount to borrow in human-readable format"),
			"interestRateMode": num("Interest rate mode: 1 for stable, 2 for variable. Default is 2 (variable).", 2),
		}),
	},
	{
		Name:        "repay_aave",
		Kind:        intent.KindRepayAave,
		Description: "Repay borrowed tokens to Aave V3. Use when user wants to repay their Aave debt.",
		Parameters: object([]string{"token", "amount"}, map[string]Property{
			"token":            str("Symbol of the token to repay"),
			"amount":           str("Amount to repay in human-readable format"),
			"interestRateMode": num("Interest rate mode of the debt: 1 for stable, 2 for variable. Default is 2.", 2),
		}),
	},
	{
		Name:        "withdraw_aave",
		Kind:        intent.KindWithdrawAave,
		Description: "Withdraw supplied tokens from Aave V3. Use when user wants to withdraw from Aave lending pool.",
		Parameters: object([]string{"token", "amount"}, map[string]Property{
			"token":  str("Symbol of the token to withdraw"),
			"amount": str("Amount to withdraw in human-readable format"),
		}),
	},
	{
		Name:        "add_liquidity_v3",
		Kind:        intent.KindAddLiquidityV3,
		Description: "Add liquidity to a Uniswap V3 pool. Creates a new NFT position with a full-range liquidity. Use when the user wants to provide liquidity, LP, or add to a pool on Uniswap V3.",
		Parameters: object([]string{"token0", "token1", "amount0", "amount1"}, map[string]Property{
			"token0":  str(`Symbol of the first token (e.g., "WETH", "USDC")`),
			"token1":  str(`Symbol of the second token (e.g., "USDC", "DAI")`),
			"amount0": str("Amount of token0 to provide in human-readable format"),
			"amount1": str("Amount of token1 to provide in human-readable format"),
			"feeTier": num("Pool fee tier: 500 (0.05%), 3000 (0.3%), or 10000 (1%). Default 3000.", 3000),
		}),
	},
	{
		Name:        "add_liquidity_v4",
		Kind:        intent.KindAddLiquidityV4,
		Description: "Add liquidity to a Uniswap V4 pool. Uses the V4 PositionManager with optional hooks. Use when the user specifically wants Uniswap V4 liquidity provision.",
		Parameters: object([]string{"token0", "token1", "amount0", "amount1"}, map[string]Property{
			"token0":      str("Symbol of the first token"),
			"token1":      str("Symbol of the second token"),
			"amount0":     str("Amount of token0 to provide in human-readable format"),
			"amount1":     str("Amount of token1 to provide in human-readable format"),
			"feeTier":     num("Pool fee tier: 500, 3000, or 10000. Default 3000.", 3000),
			"hookAddress": str("Optional V4 hook contract address. Omit if no custom hook."),
		}),
	},
	{
		Name:        "claim_merkle",
		Kind:        intent.KindClaimMerkle,
		Description: "Claim tokens from a Merkle distributor contract (airdrops, reward claims). Use when the user wants to claim an airdrop, rewards, or tokens from a Merkle proof-based distribution.",
		Parameters: object([]string{"contractAddress", "index", "amount", "proof"}, map[string]Property{
			"contractAddress": str("The Merkle distributor contract address (0x...)"),
			"index":           str("The claim index number"),
			"amount":          str("The claim amount in raw wei/smallest unit"),
			"proof":           str("Comma-separated Merkle proof hashes (bytes32 values)"),
			"tokenSymbol":     str("Optional: symbol of the token being claimed for display"),
		}),
	},
}

// Tools 返回全部工具定义的副本。
func Tools() []Tool {
	out := make([]Tool, len(tools))
	copy(out, tools)
	return out
}

// KindForTool 将工具名映射为意图类型；未知工具返回 false。
func KindForTool(name string) (intent.Kind, bool) {
	for _, tool := range tools {
		if tool.Name == name {
			return tool.Kind, true
		}
	}
	return "", false
}
