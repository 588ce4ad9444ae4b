package intent

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"IntentForge/internal/registry"
	"IntentForge/internal/units"
)

// shortenAddress renders 0x1234...abcd.
func shortenAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

// feeLabel renders a Uniswap fee in hundredths of a bip as a percentage.
func feeLabel(fee uint32) string {
	return decimal.New(int64(fee), -4).String() + "%"
}

func formatAmount(value *big.Int, token registry.TokenInfo) string {
	return units.FormatUnits(value, token.Decimals) + " " + token.Symbol
}

func percentLabel(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64) + "%"
}
