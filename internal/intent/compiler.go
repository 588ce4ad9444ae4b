// Package intent compiles typed operations into ordered, human-reviewable
// transaction plans. Compilation is pure: it reads the static registry and
// an injected clock, and never touches a wallet or an RPC endpoint.
package intent

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "IntentForge/internal/errors"
	"IntentForge/internal/registry"
	"IntentForge/internal/units"
)

// DefaultDeadline is how long swap and mint calls stay valid after compilation.
const DefaultDeadline = 30 * time.Minute

// Compiler turns operation parameters into prepared transactions.
type Compiler struct {
	registry registry.Registry
	now      func() time.Time
	deadline time.Duration
}

// Option customises a Compiler.
type Option func(*Compiler)

// WithClock overrides the clock used for swap and mint deadlines.
func WithClock(now func() time.Time) Option {
	return func(c *Compiler) {
		if now != nil {
			c.now = now
		}
	}
}

// WithDeadline overrides DefaultDeadline.
func WithDeadline(d time.Duration) Option {
	return func(c *Compiler) {
		if d > 0 {
			c.deadline = d
		}
	}
}

// NewCompiler builds a compiler over the given registry tables.
func NewCompiler(reg registry.Registry, opts ...Option) *Compiler {
	c := &Compiler{registry: reg, now: time.Now, deadline: DefaultDeadline}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Registry exposes the tables the compiler resolves against.
func (c *Compiler) Registry() registry.Registry {
	return c.registry
}

// Compile decodes raw resolver parameters for kind and dispatches to the
// matching typed compile function.
func (c *Compiler) Compile(kind Kind, params map[string]any, chainID uint64, user common.Address) (*PreparedTransaction, error) {
	switch kind {
	case KindSwap:
		var p SwapParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return c.Swap(p, chainID, user)
	case KindTransfer:
		var p TransferParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return c.Transfer(p, chainID, user)
	case KindApprove:
		var p ApproveParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return c.Approve(p, chainID, user)
	case KindSupplyAave, KindBorrowAave, KindRepayAave, KindWithdrawAave:
		var p AaveParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return c.Aave(kind, p, chainID, user)
	case KindAddLiquidityV3:
		var p LiquidityParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return c.AddLiquidityV3(p, chainID, user)
	case KindAddLiquidityV4:
		var p LiquidityParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return c.AddLiquidityV4(p, chainID, user)
	case KindClaimMerkle:
		var p ClaimParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return c.ClaimMerkle(p, chainID, user)
	default:
		return nil, paramErrorf("unsupported operation kind %q", kind)
	}
}

// begin runs the checks shared by every kind.
func (c *Compiler) begin(kind Kind, params any, chainID uint64, user common.Address) (*plan, error) {
	if !c.registry.SupportsChain(chainID) {
		return nil, xerrors.Wrap(xerrors.CodeChainConfig, registry.ErrUnsupportedChain, fmt.Sprintf("chain %d is not supported", chainID))
	}
	if user == (common.Address{}) {
		return nil, paramErrorf("user address is required")
	}
	if err := validateParams(params); err != nil {
		return nil, err
	}
	return newPlan(kind, chainID), nil
}

func (c *Compiler) resolveToken(symbolOrAddress string, chainID uint64) (registry.TokenInfo, error) {
	token, err := c.registry.ResolveToken(symbolOrAddress, chainID)
	if err != nil {
		return token, registryError(err)
	}
	return token, nil
}

func (c *Compiler) resolveSwapToken(symbolOrAddress string, chainID uint64) (registry.TokenInfo, error) {
	token, err := c.registry.ResolveSwapToken(symbolOrAddress, chainID)
	if err != nil {
		return token, registryError(err)
	}
	return token, nil
}

func (c *Compiler) contract(protocol string, chainID uint64) (common.Address, error) {
	addr, err := c.registry.ContractAddress(protocol, chainID)
	if err != nil {
		return common.Address{}, registryError(err)
	}
	return addr, nil
}

func (c *Compiler) deadlineAt() *big.Int {
	return big.NewInt(c.now().Add(c.deadline).Unix())
}

// scaleAmount converts a human amount using the token's precision and
// rejects zero.
func scaleAmount(amount string, token registry.TokenInfo) (*big.Int, error) {
	value, err := units.ParseUnits(amount, token.Decimals)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeParam, err, fmt.Sprintf("invalid %s amount", token.Symbol))
	}
	if value.Sign() == 0 {
		return nil, paramErrorf("%s amount must be greater than zero", token.Symbol)
	}
	return value, nil
}

// registryError maps lookup failures onto the compiler's two error classes
// while keeping the registry sentinel in the chain.
func registryError(err error) error {
	switch {
	case errors.Is(err, registry.ErrUnsupportedChain),
		errors.Is(err, registry.ErrUnknownProtocol),
		errors.Is(err, registry.ErrProtocolNotDeployed):
		return xerrors.Wrap(xerrors.CodeChainConfig, err, "chain configuration")
	default:
		return xerrors.Wrap(xerrors.CodeParam, err, "invalid parameter")
	}
}

func paramErrorf(format string, args ...any) error {
	return xerrors.Newf(xerrors.CodeParam, format, args...)
}

// IsParamError reports a malformed or unresolvable parameter.
func IsParamError(err error) bool {
	return xerrors.HasCode(err, xerrors.CodeParam)
}

// IsChainConfigError reports an unsupported chain or undeployed protocol.
func IsChainConfigError(err error) bool {
	return xerrors.HasCode(err, xerrors.CodeChainConfig)
}

// plan accumulates steps and display rows for one compilation.
type plan struct {
	chainID  uint64
	steps    []TransactionStep
	readable HumanReadable
}

func newPlan(kind Kind, chainID uint64) *plan {
	return &plan{chainID: chainID, readable: HumanReadable{Kind: kind, Details: []Detail{}, Warnings: []string{}}}
}

func (p *plan) add(steps ...TransactionStep) {
	p.steps = append(p.steps, steps...)
}

func (p *plan) summary(format string, args ...any) {
	p.readable.Summary = fmt.Sprintf(format, args...)
}

func (p *plan) detail(label, value string) {
	p.readable.Details = append(p.readable.Details, Detail{Label: label, Value: value})
}

func (p *plan) warn(message string) {
	for _, existing := range p.readable.Warnings {
		if existing == message {
			return
		}
	}
	p.readable.Warnings = append(p.readable.Warnings, message)
}

// spend appends action, preceded by an approval of spender when token is
// an ERC20.
func (p *plan) spend(token registry.TokenInfo, spender common.Address, amount *big.Int, action TransactionStep) error {
	steps, err := withApproval(token, spender, amount, action)
	if err != nil {
		return err
	}
	if len(steps) > 1 {
		p.warn(warnUnlimitedApproval)
	}
	p.add(steps...)
	return nil
}

func (p *plan) build() *PreparedTransaction {
	return &PreparedTransaction{Steps: p.steps, ChainID: p.chainID, HumanReadable: p.readable}
}
