package intent

import (
	"encoding/json"
	"errors"
	"math/big"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethmath "github.com/ethereum/go-ethereum/common/math"

	"IntentForge/internal/registry"
	"IntentForge/internal/units"
	"IntentForge/internal/web3/abis"
)

var (
	testUser  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	fixedTime = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
)

func newTestCompiler() *Compiler {
	return NewCompiler(registry.Default(), WithClock(func() time.Time { return fixedTime }))
}

func mustAddress(t *testing.T, reg registry.Registry, protocol string, chainID uint64) common.Address {
	t.Helper()
	addr, err := reg.ContractAddress(protocol, chainID)
	if err != nil {
		t.Fatalf("contract %s: %v", protocol, err)
	}
	return addr
}

func decodeApproval(t *testing.T, step TransactionStep) (common.Address, *big.Int) {
	t.Helper()
	method := abis.ERC20.Methods["approve"]
	if !strings.HasPrefix(string(step.Data), string(method.ID)) {
		t.Fatalf("step %q is not an approve call", step.Label)
	}
	values, err := method.Inputs.Unpack(step.Data[4:])
	if err != nil {
		t.Fatalf("unpack approve: %v", err)
	}
	return values[0].(common.Address), values[1].(*big.Int)
}

func hasWarning(ptx *PreparedTransaction, fragment string) bool {
	for _, w := range ptx.HumanReadable.Warnings {
		if strings.Contains(w, fragment) {
			return true
		}
	}
	return false
}

func detailValue(ptx *PreparedTransaction, label string) string {
	for _, d := range ptx.HumanReadable.Details {
		if d.Label == label {
			return d.Value
		}
	}
	return ""
}

func TestSwapNativeInputHasNoApproval(t *testing.T) {
	c := newTestCompiler()
	ptx, err := c.Swap(SwapParams{TokenIn: "ETH", TokenOut: "USDC", Amount: "1"}, registry.ChainEthereum, testUser)
	if err != nil {
		t.Fatalf("compile swap: %v", err)
	}
	if len(ptx.Steps) != 1 {
		t.Fatalf("expected a single step, got %d", len(ptx.Steps))
	}
	step := ptx.Steps[0]
	if step.ApproveCheck != nil {
		t.Fatalf("native input must not carry an approval")
	}
	oneEther, _ := new(big.Int).SetString("1000000000000000000", 10)
	if step.Value.Cmp(oneEther) != 0 {
		t.Fatalf("value %s, want %s", step.Value, oneEther)
	}
	if step.To != mustAddress(t, c.Registry(), registry.UniswapV3Router, registry.ChainEthereum) {
		t.Fatalf("swap must target the router, got %s", step.To.Hex())
	}
	if !hasWarning(ptx, "amountOutMinimum is set to 0") {
		t.Fatalf("missing zero minimum output warning: %v", ptx.HumanReadable.Warnings)
	}
	if !hasWarning(ptx, "Sending 1 ETH as msg.value") {
		t.Fatalf("missing msg.value warning: %v", ptx.HumanReadable.Warnings)
	}
	if ptx.HumanReadable.Summary != "Swap 1 ETH for USDC on Uniswap V3" {
		t.Fatalf("unexpected summary %q", ptx.HumanReadable.Summary)
	}
	if got := detailValue(ptx, "Slippage"); got != "0.5%" {
		t.Fatalf("default slippage %q", got)
	}

	method := abis.UniswapV3Router.Methods["exactInputSingle"]
	values, err := method.Inputs.Unpack(step.Data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	decoded := *abi.ConvertType(values[0], new(exactInputSingleParams)).(*exactInputSingleParams)
	weth, _ := c.Registry().ResolveSwapToken("WETH", registry.ChainEthereum)
	if decoded.TokenIn != weth.Address {
		t.Fatalf("native input must be encoded as WETH, got %s", decoded.TokenIn.Hex())
	}
	if decoded.AmountOutMinimum.Sign() != 0 || decoded.Recipient != testUser {
		t.Fatalf("unexpected swap params %+v", decoded)
	}
	if want := fixedTime.Add(DefaultDeadline).Unix(); decoded.Deadline.Int64() != want {
		t.Fatalf("deadline %s, want %d", decoded.Deadline, want)
	}
	if decoded.Fee.Int64() != 3000 {
		t.Fatalf("fee %s", decoded.Fee)
	}
}

func TestSwapERC20InputApprovesRouter(t *testing.T) {
	c := newTestCompiler()
	slippage := 1.0
	ptx, err := c.Swap(SwapParams{TokenIn: "usdc", TokenOut: "ETH", Amount: "250.5", Slippage: &slippage}, registry.ChainArbitrum, testUser)
	if err != nil {
		t.Fatalf("compile swap: %v", err)
	}
	if len(ptx.Steps) != 2 {
		t.Fatalf("expected approve + swap, got %d steps", len(ptx.Steps))
	}
	router := mustAddress(t, c.Registry(), registry.UniswapV3Router, registry.ChainArbitrum)
	check := ptx.Steps[0].ApproveCheck
	if check == nil || check.Spender != router {
		t.Fatalf("approval must target the router: %+v", check)
	}
	if check.MinRequiredAmount.String() != "250500000" {
		t.Fatalf("min required %s", check.MinRequiredAmount)
	}
	if ptx.Steps[1].Value.Sign() != 0 {
		t.Fatalf("erc20 input must not attach value")
	}
	if detailValue(ptx, "Slippage") != "1%" {
		t.Fatalf("slippage detail %q", detailValue(ptx, "Slippage"))
	}
	if !hasWarning(ptx, "Unlimited approval") {
		t.Fatalf("missing approval warning")
	}
}

func TestSupplyComposesApproval(t *testing.T) {
	c := newTestCompiler()
	ptx, err := c.Aave(KindSupplyAave, AaveParams{Token: "USDC", Amount: "100"}, registry.ChainEthereum, testUser)
	if err != nil {
		t.Fatalf("compile supply: %v", err)
	}
	if len(ptx.Steps) != 2 {
		t.Fatalf("expected exactly two steps, got %d", len(ptx.Steps))
	}
	pool := mustAddress(t, c.Registry(), registry.AaveV3Pool, registry.ChainEthereum)
	approval := ptx.Steps[0]
	if approval.ApproveCheck == nil {
		t.Fatalf("first step must be a skippable approval")
	}
	if approval.ApproveCheck.MinRequiredAmount.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("min required %s, want 100000000", approval.ApproveCheck.MinRequiredAmount)
	}
	spender, amount := decodeApproval(t, approval)
	if spender != pool || amount.Cmp(gethmath.MaxBig256) != 0 {
		t.Fatalf("approval encodes %s for %s, want unlimited for pool", amount, spender.Hex())
	}
	supply := ptx.Steps[1]
	if supply.To != pool || supply.ApproveCheck != nil {
		t.Fatalf("second step must be the supply call")
	}
	if !strings.HasPrefix(string(supply.Data), string(abis.AaveV3Pool.Methods["supply"].ID)) {
		t.Fatalf("second step is not supply()")
	}
	if ptx.HumanReadable.Summary != "Supply 100 USDC to Aave V3" {
		t.Fatalf("summary %q", ptx.HumanReadable.Summary)
	}
}

func TestAaveBorrowAndWithdrawSkipApproval(t *testing.T) {
	c := newTestCompiler()
	borrow, err := c.Compile(KindBorrowAave, map[string]any{"token": "DAI", "amount": 50, "interestRateMode": "1"}, registry.ChainBase, testUser)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if len(borrow.Steps) != 1 || borrow.Steps[0].ApproveCheck != nil {
		t.Fatalf("borrow must be a single call")
	}
	if detailValue(borrow, "Rate Mode") != "Stable" {
		t.Fatalf("rate mode detail %q", detailValue(borrow, "Rate Mode"))
	}
	if !hasWarning(borrow, "health factor") {
		t.Fatalf("borrow must warn about liquidation: %v", borrow.HumanReadable.Warnings)
	}

	withdraw, err := c.Aave(KindWithdrawAave, AaveParams{Token: "WETH", Amount: "0.25"}, registry.ChainBase, testUser)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(withdraw.Steps) != 1 || !hasWarning(withdraw, "health factor") {
		t.Fatalf("withdraw must be one step with a health factor warning")
	}

	repay, err := c.Aave(KindRepayAave, AaveParams{Token: "DAI", Amount: "10"}, registry.ChainBase, testUser)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if len(repay.Steps) != 2 || repay.Steps[0].ApproveCheck == nil {
		t.Fatalf("repay must approve first")
	}
	if detailValue(repay, "Rate Mode") != "Variable" {
		t.Fatalf("repay should default to variable rate")
	}
}

func TestAaveRejectsNativeAndBadRateMode(t *testing.T) {
	c := newTestCompiler()
	if _, err := c.Aave(KindSupplyAave, AaveParams{Token: "ETH", Amount: "1"}, registry.ChainEthereum, testUser); !IsParamError(err) {
		t.Fatalf("expected param error for native asset, got %v", err)
	}
	if _, err := c.Aave(KindBorrowAave, AaveParams{Token: "USDC", Amount: "1", InterestRateMode: 3}, registry.ChainEthereum, testUser); !IsParamError(err) {
		t.Fatalf("expected param error for rate mode 3, got %v", err)
	}
	if _, err := c.Aave(KindSwap, AaveParams{Token: "USDC", Amount: "1"}, registry.ChainEthereum, testUser); !IsParamError(err) {
		t.Fatalf("expected param error for non aave kind, got %v", err)
	}
}

func TestSpendingKindsRequireExactAllowance(t *testing.T) {
	c := newTestCompiler()
	cases := []struct {
		name   string
		kind   Kind
		params map[string]any
		mins   []string
	}{
		{"swap", KindSwap, map[string]any{"tokenIn": "DAI", "tokenOut": "USDC", "amount": "2"}, []string{"2000000000000000000"}},
		{"supply", KindSupplyAave, map[string]any{"token": "WBTC", "amount": "0.5"}, []string{"50000000"}},
		{"repay", KindRepayAave, map[string]any{"token": "USDT", "amount": "12.34"}, []string{"12340000"}},
		{"lp v3", KindAddLiquidityV3, map[string]any{"token0": "ETH", "token1": "USDC", "amount0": "1", "amount1": "3000"}, []string{"3000000000", "1000000000000000000"}},
		{"lp v4", KindAddLiquidityV4, map[string]any{"token0": "USDC", "token1": "DAI", "amount0": "5", "amount1": "5"}, []string{"5000000000000000000", "5000000"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ptx, err := c.Compile(tc.kind, tc.params, registry.ChainEthereum, testUser)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			var mins []string
			for _, step := range ptx.Steps {
				if step.ApproveCheck == nil {
					continue
				}
				spender, encoded := decodeApproval(t, step)
				if spender != step.ApproveCheck.Spender || step.To != step.ApproveCheck.Token {
					t.Fatalf("approve check does not match payload")
				}
				if step.ApproveCheck.MinRequiredAmount.Cmp(encoded) > 0 {
					t.Fatalf("min required exceeds encoded allowance")
				}
				mins = append(mins, step.ApproveCheck.MinRequiredAmount.String())
			}
			if !reflect.DeepEqual(mins, tc.mins) {
				t.Fatalf("min required amounts %v, want %v", mins, tc.mins)
			}
			last := ptx.Steps[len(ptx.Steps)-1]
			if last.ApproveCheck != nil {
				t.Fatalf("the spending call must come last")
			}
		})
	}
}

func TestFullRangeTicks(t *testing.T) {
	for _, fee := range []uint32{100, 500, 3000, 10000, 2500} {
		lower, upper := FullRangeTicks(fee)
		spacing := TickSpacing(fee)
		if lower != -upper {
			t.Fatalf("fee %d: ticks not symmetric (%d, %d)", fee, lower, upper)
		}
		if upper%spacing != 0 || lower%spacing != 0 {
			t.Fatalf("fee %d: ticks not aligned to %d", fee, spacing)
		}
		if upper > MaxTick || upper+spacing <= MaxTick {
			t.Fatalf("fee %d: upper tick %d is not the widest aligned tick", fee, upper)
		}
	}
	if _, upper := FullRangeTicks(3000); upper != 887220 {
		t.Fatalf("fee 3000 upper tick %d, want 887220", upper)
	}
	if TickSpacing(2500) != 60 {
		t.Fatalf("unknown fee tier should fall back to spacing 60")
	}
}

func TestAddLiquidityV3OrdersTokens(t *testing.T) {
	c := newTestCompiler()
	ptx, err := c.AddLiquidityV3(LiquidityParams{Token0: "ETH", Token1: "USDC", Amount0: "1", Amount1: "3000", FeeTier: 500}, registry.ChainEthereum, testUser)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(ptx.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(ptx.Steps))
	}
	usdc, _ := c.Registry().ResolveToken("USDC", registry.ChainEthereum)
	if ptx.Steps[0].To != usdc.Address {
		t.Fatalf("the smaller address must be approved first")
	}
	if detailValue(ptx, "Pool") != "USDC/WETH" || detailValue(ptx, "Fee Tier") != "0.05%" {
		t.Fatalf("unexpected details %+v", ptx.HumanReadable.Details)
	}

	values, err := abis.NonfungiblePositionManager.Methods["mint"].Inputs.Unpack(ptx.Steps[2].Data[4:])
	if err != nil {
		t.Fatalf("unpack mint: %v", err)
	}
	mint := *abi.ConvertType(values[0], new(mintParams)).(*mintParams)
	if mint.Token0 != usdc.Address {
		t.Fatalf("token0 %s, want USDC", mint.Token0.Hex())
	}
	if mint.Amount0Desired.String() != "3000000000" || mint.Amount1Desired.String() != "1000000000000000000" {
		t.Fatalf("amounts not reordered with tokens: %s %s", mint.Amount0Desired, mint.Amount1Desired)
	}
	if mint.TickLower.Int64() != -887270 || mint.TickUpper.Int64() != 887270 {
		t.Fatalf("ticks %s %s", mint.TickLower, mint.TickUpper)
	}
}

func TestAddLiquidityV4EncodesActions(t *testing.T) {
	c := newTestCompiler()
	hook := "0x00000000000000000000000000000000000000a0"
	ptx, err := c.AddLiquidityV4(LiquidityParams{Token0: "WETH", Token1: "USDC", Amount0: "1", Amount1: "3000", HookAddress: hook}, registry.ChainBase, testUser)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if detailValue(ptx, "Hook") != "0x0000...00A0" && detailValue(ptx, "Hook") != "0x0000...00a0" {
		t.Fatalf("hook detail %q", detailValue(ptx, "Hook"))
	}
	call := ptx.Steps[2]
	values, err := abis.V4PositionManager.Methods["modifyLiquidities"].Inputs.Unpack(call.Data[4:])
	if err != nil {
		t.Fatalf("unpack modifyLiquidities: %v", err)
	}
	unlockArgs, _ := abis.Arguments("bytes", "bytes[]")
	unlock, err := unlockArgs.Unpack(values[0].([]byte))
	if err != nil {
		t.Fatalf("unpack unlock data: %v", err)
	}
	if actions := unlock[0].([]byte); !reflect.DeepEqual(actions, []byte{actionMintPosition, actionSettlePair}) {
		t.Fatalf("actions %x", actions)
	}
	if params := unlock[1].([][]byte); len(params) != 2 {
		t.Fatalf("expected two action params, got %d", len(params))
	}

	noHook, err := c.AddLiquidityV4(LiquidityParams{Token0: "WETH", Token1: "USDC", Amount0: "1", Amount1: "3000"}, registry.ChainBase, testUser)
	if err != nil {
		t.Fatalf("compile without hook: %v", err)
	}
	if detailValue(noHook, "Hook") != "None" {
		t.Fatalf("zero hook must render as None")
	}
}

func TestLiquidityRejectsSameToken(t *testing.T) {
	c := newTestCompiler()
	_, err := c.AddLiquidityV3(LiquidityParams{Token0: "ETH", Token1: "WETH", Amount0: "1", Amount1: "1"}, registry.ChainEthereum, testUser)
	if !IsParamError(err) {
		t.Fatalf("expected param error, got %v", err)
	}
}

func TestClaimMerkleNormalizesProof(t *testing.T) {
	c := newTestCompiler()
	nodeA := "0x" + strings.Repeat("ab", 32)
	nodeB := "0x" + strings.Repeat("cd", 32)
	ptx, err := c.Compile(KindClaimMerkle, map[string]any{
		"contractAddress": "0x2222222222222222222222222222222222222222",
		"index":           7,
		"amount":          "1000000000000000000000",
		"proof":           nodeA + ", " + nodeB + ",",
	}, registry.ChainArbitrum, testUser)
	if err != nil {
		t.Fatalf("compile claim: %v", err)
	}
	if detailValue(ptx, "Proof Length") != "2 nodes" || detailValue(ptx, "Amount (wei)") != "1000000000000000000000" {
		t.Fatalf("unexpected details %+v", ptx.HumanReadable.Details)
	}
	values, err := abis.MerkleDistributor.Methods["claim"].Inputs.Unpack(ptx.Steps[0].Data[4:])
	if err != nil {
		t.Fatalf("unpack claim: %v", err)
	}
	proof := values[3].([][32]byte)
	if len(proof) != 2 || common.Hash(proof[1]) != common.HexToHash(nodeB) {
		t.Fatalf("proof not encoded in order")
	}
	if ptx.HumanReadable.Summary != "Claim tokens from Merkle distributor" {
		t.Fatalf("summary %q", ptx.HumanReadable.Summary)
	}

	_, err = c.Compile(KindClaimMerkle, map[string]any{
		"contractAddress": "0x2222222222222222222222222222222222222222",
		"index":           "1",
		"amount":          "5",
		"proof":           []any{"0x1234"},
	}, registry.ChainArbitrum, testUser)
	if !IsParamError(err) {
		t.Fatalf("short proof node should be a param error, got %v", err)
	}
}

func TestOversizedAmountsAreRejected(t *testing.T) {
	c := newTestCompiler()
	to := "0x3333333333333333333333333333333333333333"

	_, err := c.Compile(KindClaimMerkle, map[string]any{
		"contractAddress": "0x2222222222222222222222222222222222222222",
		"index":           "1",
		"amount":          "1" + strings.Repeat("0", 90),
		"proof":           []any{"0x" + strings.Repeat("ab", 32)},
	}, registry.ChainArbitrum, testUser)
	if !IsParamError(err) || !errors.Is(err, units.ErrOutOfRange) {
		t.Fatalf("claim amount above uint256 must be rejected, got %v", err)
	}

	_, err = c.Transfer(TransferParams{Token: "ETH", To: to, Amount: "1" + strings.Repeat("0", 80)}, registry.ChainBase, testUser)
	if !IsParamError(err) || !errors.Is(err, units.ErrOutOfRange) {
		t.Fatalf("native value above uint256 must be rejected, got %v", err)
	}

	_, err = c.AddLiquidityV4(LiquidityParams{Token0: "WETH", Token1: "USDC", Amount0: "1", Amount1: "1" + strings.Repeat("0", 35)}, registry.ChainBase, testUser)
	if !IsParamError(err) || !errors.Is(err, units.ErrOutOfRange) {
		t.Fatalf("V4 amount above uint128 must be rejected, got %v", err)
	}

	// The same deposit still fits the uint256 fields of a V3 mint.
	if _, err := c.AddLiquidityV3(LiquidityParams{Token0: "WETH", Token1: "USDC", Amount0: "1", Amount1: "1" + strings.Repeat("0", 35)}, registry.ChainBase, testUser); err != nil {
		t.Fatalf("V3 mint with a wide amount: %v", err)
	}
}

func TestTransferAndApprove(t *testing.T) {
	c := newTestCompiler()
	to := "0x3333333333333333333333333333333333333333"
	native, err := c.Transfer(TransferParams{Token: "ETH", To: to, Amount: "0.1"}, registry.ChainBase, testUser)
	if err != nil {
		t.Fatalf("native transfer: %v", err)
	}
	if native.Steps[0].To != common.HexToAddress(to) || len(native.Steps[0].Data) != 0 {
		t.Fatalf("native transfer must be a plain value transfer")
	}
	if native.Steps[0].Value.String() != "100000000000000000" {
		t.Fatalf("value %s", native.Steps[0].Value)
	}
	erc20, err := c.Transfer(TransferParams{Token: "USDC", To: to, Amount: "5"}, registry.ChainBase, testUser)
	if err != nil {
		t.Fatalf("erc20 transfer: %v", err)
	}
	if detailValue(erc20, "Action") != "ERC20 Transfer" || erc20.Steps[0].Value.Sign() != 0 {
		t.Fatalf("unexpected erc20 transfer %+v", erc20.HumanReadable)
	}
	if _, err := c.Transfer(TransferParams{Token: "USDC", To: "not-an-address", Amount: "5"}, registry.ChainBase, testUser); !IsParamError(err) {
		t.Fatalf("expected param error for bad recipient, got %v", err)
	}

	unlimited, err := c.Approve(ApproveParams{Token: "USDC", Spender: to, Amount: "max"}, registry.ChainBase, testUser)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if detailValue(unlimited, "Amount") != "Unlimited (MaxUint256)" || !hasWarning(unlimited, "Unlimited approval") {
		t.Fatalf("unexpected unlimited approval %+v", unlimited.HumanReadable)
	}
	revoke, err := c.Approve(ApproveParams{Token: "USDC", Spender: to, Amount: "0"}, registry.ChainBase, testUser)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoke.Steps[0].ApproveCheck != nil {
		t.Fatalf("explicit approvals must never be skipped")
	}
	if _, amount := decodeApproval(t, revoke.Steps[0]); amount.Sign() != 0 {
		t.Fatalf("revoke encodes %s", amount)
	}
}

func TestCompileErrors(t *testing.T) {
	c := newTestCompiler()
	cases := []struct {
		name        string
		kind        Kind
		params      map[string]any
		chainID     uint64
		user        common.Address
		chainConfig bool
		is          error
	}{
		{name: "too precise", kind: KindTransfer, params: map[string]any{"token": "USDC", "to": testUser.Hex(), "amount": "1.0000001"}, chainID: 1, user: testUser, is: units.ErrTooPrecise},
		{name: "unknown token", kind: KindSwap, params: map[string]any{"tokenIn": "DOGE", "tokenOut": "USDC", "amount": "1"}, chainID: 1, user: testUser, is: registry.ErrUnknownToken},
		{name: "missing amount", kind: KindSwap, params: map[string]any{"tokenIn": "ETH", "tokenOut": "USDC"}, chainID: 1, user: testUser},
		{name: "zero amount", kind: KindSupplyAave, params: map[string]any{"token": "USDC", "amount": "0"}, chainID: 1, user: testUser},
		{name: "zero user", kind: KindSupplyAave, params: map[string]any{"token": "USDC", "amount": "1"}, chainID: 1},
		{name: "unknown kind", kind: Kind("stake"), params: map[string]any{}, chainID: 1, user: testUser},
		{name: "unsupported chain", kind: KindSwap, params: map[string]any{"tokenIn": "ETH", "tokenOut": "USDC", "amount": "1"}, chainID: 10, user: testUser, chainConfig: true, is: registry.ErrUnsupportedChain},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Compile(tc.kind, tc.params, tc.chainID, tc.user)
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.chainConfig != IsChainConfigError(err) || tc.chainConfig == IsParamError(err) {
				t.Fatalf("wrong error class: %v", err)
			}
			if tc.is != nil && !errors.Is(err, tc.is) {
				t.Fatalf("expected %v in chain, got %v", tc.is, err)
			}
		})
	}
}

func TestProtocolNotDeployedIsChainConfig(t *testing.T) {
	reg := registry.Default()
	delete(reg.Contracts[registry.AaveV3Pool], registry.ChainBase)
	c := NewCompiler(reg)
	_, err := c.Aave(KindSupplyAave, AaveParams{Token: "USDC", Amount: "1"}, registry.ChainBase, testUser)
	if !IsChainConfigError(err) || !errors.Is(err, registry.ErrProtocolNotDeployed) {
		t.Fatalf("expected chain config error, got %v", err)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	c := newTestCompiler()
	params := map[string]any{"token0": "WBTC", "token1": "ETH", "amount0": "0.1", "amount1": "2", "feeTier": "10000"}
	first, err := c.Compile(KindAddLiquidityV3, params, registry.ChainArbitrum, testUser)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	second, err := c.Compile(KindAddLiquidityV3, params, registry.ChainArbitrum, testUser)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("compiling the same input twice produced different plans")
	}
}

func TestPreparedTransactionJSON(t *testing.T) {
	c := newTestCompiler()
	ptx, err := c.Aave(KindSupplyAave, AaveParams{Token: "USDC", Amount: "100"}, registry.ChainEthereum, testUser)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	raw, err := json.Marshal(ptx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("unmarshal map: %v", err)
	}
	steps := wire["steps"].([]any)
	first := steps[0].(map[string]any)
	if first["value"] != "0" || !strings.HasPrefix(first["data"].(string), "0x095ea7b3") {
		t.Fatalf("unexpected wire step %v", first)
	}
	if check := first["approveCheck"].(map[string]any); check["minRequiredAmount"] != "100000000" {
		t.Fatalf("unexpected approve check %v", check)
	}
	if wire["humanReadable"].(map[string]any)["type"] != "supply_aave" {
		t.Fatalf("kind must serialise as type")
	}

	var back PreparedTransaction
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := back.Validate(); err != nil {
		t.Fatalf("decoded plan invalid: %v", err)
	}
	if back.Steps[0].ApproveCheck.MinRequiredAmount.Cmp(ptx.Steps[0].ApproveCheck.MinRequiredAmount) != 0 {
		t.Fatalf("approve check lost in round trip")
	}
}

func TestBuildApprovalStepGuards(t *testing.T) {
	reg := registry.Default()
	usdc, _ := reg.ResolveToken("USDC", registry.ChainEthereum)
	eth, _ := reg.ResolveToken("ETH", registry.ChainEthereum)
	spender := common.HexToAddress("0x4444444444444444444444444444444444444444")

	if _, err := BuildApprovalStep(eth, spender, big.NewInt(1), false, nil); !IsParamError(err) {
		t.Fatalf("native approval must fail, got %v", err)
	}
	if _, err := BuildApprovalStep(usdc, spender, big.NewInt(10), false, big.NewInt(11)); !IsParamError(err) {
		t.Fatalf("min above allowance must fail, got %v", err)
	}
	step, err := BuildApprovalStep(usdc, spender, big.NewInt(10), false, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if step.ApproveCheck.MinRequiredAmount.Int64() != 10 {
		t.Fatalf("min required should default to the allowance")
	}
	if step.Label != "Approve USDC for 0x4444...4444" {
		t.Fatalf("label %q", step.Label)
	}
}
