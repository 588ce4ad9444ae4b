package llm

import (
	"fmt"
	"strings"
)

const promptHeader = `You are IntentForge, an assistant that turns natural-language requests into blockchain operations.

You support the following operations on EVM chains:

1. Token swaps via Uniswap V3
2. Token transfers of ETH or ERC20 tokens
3. Token approvals for spender contracts
4. Aave V3 supply
5. Aave V3 borrow
6. Aave V3 repay
7. Aave V3 withdraw
8. Uniswap V3 add liquidity (mints an NFT position)
9. Uniswap V4 add liquidity (optional hook)
10. Merkle claims from a distributor contract

Rules:
1. When the user wants to perform an operation, call the matching tool with the correct parameters.
2. If required parameters are missing, ask the user. Don't guess.
3. Use the user's chain unless they name another one.
4. Use token symbols, not addresses.
5. Amounts are human-readable ("1.5", not "1500000000000000000"), except Merkle claim amounts which are raw units.
6. Token approvals are composed automatically; don't ask the user to approve separately.
7. For Uniswap V3 liquidity default to fee tier 3000 and full range.
8. For Uniswap V4 liquidity default to no hook.
9. Be concise and reply in the user's language.
`

// SystemPrompt 根据账户、链与可用代币生成系统提示词。
func SystemPrompt(req Request) string {
	var builder strings.Builder
	builder.WriteString(promptHeader)

	if len(req.Tokens) > 0 {
		builder.WriteString("\nSupported tokens: ")
		builder.WriteString(strings.Join(req.Tokens, ", "))
		builder.WriteString("\n")
	}

	if account := strings.TrimSpace(req.Account); account != "" {
		builder.WriteString(fmt.Sprintf("\nUser's wallet: %s\n", account))
	} else {
		builder.WriteString("\nThe user has not provided a wallet address. Ask for it before performing any operation.\n")
	}

	if req.ChainID != 0 {
		name := strings.TrimSpace(req.ChainName)
		if name == "" {
			name = fmt.Sprintf("Chain %d", req.ChainID)
		}
		builder.WriteString(fmt.Sprintf("Connected chain: %s (Chain ID: %d)\n", name, req.ChainID))
	}
	return builder.String()
}
