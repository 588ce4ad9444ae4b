package intent

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "IntentForge/internal/errors"
)

// Kind names a supported operation.
type Kind string

const (
	KindSwap           Kind = "swap"
	KindTransfer       Kind = "transfer"
	KindApprove        Kind = "approve"
	KindSupplyAave     Kind = "supply_aave"
	KindBorrowAave     Kind = "borrow_aave"
	KindRepayAave      Kind = "repay_aave"
	KindWithdrawAave   Kind = "withdraw_aave"
	KindAddLiquidityV3 Kind = "add_liquidity_v3"
	KindAddLiquidityV4 Kind = "add_liquidity_v4"
	KindClaimMerkle    Kind = "claim_merkle"
)

// Kinds lists every supported operation in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindSwap, KindTransfer, KindApprove,
		KindSupplyAave, KindBorrowAave, KindRepayAave, KindWithdrawAave,
		KindAddLiquidityV3, KindAddLiquidityV4, KindClaimMerkle,
	}
}

// ParseKind validates a kind name.
func ParseKind(raw string) (Kind, error) {
	needle := Kind(strings.ToLower(strings.TrimSpace(raw)))
	for _, kind := range Kinds() {
		if kind == needle {
			return kind, nil
		}
	}
	return "", xerrors.New(xerrors.CodeParam, fmt.Sprintf("unsupported operation kind %q", raw))
}

// ApproveCheck marks a step as an allowance-raising approval that may be
// skipped when the on-chain allowance already covers MinRequiredAmount.
type ApproveCheck struct {
	Token             common.Address
	Spender           common.Address
	MinRequiredAmount *big.Int
}

// TransactionStep is one on-chain call of a prepared transaction.
type TransactionStep struct {
	To           common.Address
	Data         []byte
	Value        *big.Int
	Label        string
	ApproveCheck *ApproveCheck
}

// Detail is one label/value row of the human-readable preview.
type Detail struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// HumanReadable is the display bundle accompanying a compiled plan.
type HumanReadable struct {
	Kind     Kind     `json:"type"`
	Summary  string   `json:"summary"`
	Details  []Detail `json:"details"`
	Warnings []string `json:"warnings"`
}

// PreparedTransaction is the ordered list of calls produced for one
// confirmed operation. It is never mutated after compilation.
type PreparedTransaction struct {
	Steps         []TransactionStep `json:"steps"`
	ChainID       uint64            `json:"chainId"`
	HumanReadable HumanReadable     `json:"humanReadable"`
}

// Validate checks the structural invariants of a plan received from outside
// the compiler, for example through the HTTP API.
func (p *PreparedTransaction) Validate() error {
	if p == nil {
		return xerrors.New(xerrors.CodeParam, "prepared transaction is required")
	}
	if p.ChainID == 0 {
		return xerrors.New(xerrors.CodeParam, "prepared transaction has no chain id")
	}
	if len(p.Steps) == 0 {
		return xerrors.New(xerrors.CodeParam, "prepared transaction has no steps")
	}
	for i, step := range p.Steps {
		if step.To == (common.Address{}) {
			return xerrors.New(xerrors.CodeParam, fmt.Sprintf("step %d has no target address", i+1))
		}
		if step.Value != nil && step.Value.Sign() < 0 {
			return xerrors.New(xerrors.CodeParam, fmt.Sprintf("step %d has a negative value", i+1))
		}
		if check := step.ApproveCheck; check != nil {
			if check.MinRequiredAmount == nil || check.MinRequiredAmount.Sign() < 0 {
				return xerrors.New(xerrors.CodeParam, fmt.Sprintf("step %d has an invalid approval minimum", i+1))
			}
		}
	}
	return nil
}

// Clone returns a deep copy, so holders of a plan can hand it to other
// goroutines without sharing big.Int or byte slice backing arrays.
func (p *PreparedTransaction) Clone() *PreparedTransaction {
	if p == nil {
		return nil
	}
	out := &PreparedTransaction{ChainID: p.ChainID, Steps: make([]TransactionStep, len(p.Steps))}
	for i, step := range p.Steps {
		copied := TransactionStep{To: step.To, Label: step.Label, Data: append([]byte(nil), step.Data...)}
		if step.Value != nil {
			copied.Value = new(big.Int).Set(step.Value)
		}
		if step.ApproveCheck != nil {
			check := *step.ApproveCheck
			if check.MinRequiredAmount != nil {
				check.MinRequiredAmount = new(big.Int).Set(check.MinRequiredAmount)
			}
			copied.ApproveCheck = &check
		}
		out.Steps[i] = copied
	}
	out.HumanReadable = HumanReadable{
		Kind:     p.HumanReadable.Kind,
		Summary:  p.HumanReadable.Summary,
		Details:  append([]Detail(nil), p.HumanReadable.Details...),
		Warnings: append([]string(nil), p.HumanReadable.Warnings...),
	}
	return out
}

// ValueOrZero returns the native value attached to the step.
func (s TransactionStep) ValueOrZero() *big.Int {
	if s.Value == nil {
		return new(big.Int)
	}
	return s.Value
}

type approveCheckJSON struct {
	Token             common.Address `json:"token"`
	Spender           common.Address `json:"spender"`
	MinRequiredAmount string         `json:"minRequiredAmount"`
}

type stepJSON struct {
	To           common.Address    `json:"to"`
	Data         hexutil.Bytes     `json:"data"`
	Value        string            `json:"value"`
	Label        string            `json:"label"`
	ApproveCheck *approveCheckJSON `json:"approveCheck,omitempty"`
}

// MarshalJSON renders amounts as base-10 strings and call data as 0x hex.
func (s TransactionStep) MarshalJSON() ([]byte, error) {
	wire := stepJSON{To: s.To, Data: s.Data, Value: s.ValueOrZero().String(), Label: s.Label}
	if wire.Data == nil {
		wire.Data = hexutil.Bytes{}
	}
	if s.ApproveCheck != nil {
		required := "0"
		if s.ApproveCheck.MinRequiredAmount != nil {
			required = s.ApproveCheck.MinRequiredAmount.String()
		}
		wire.ApproveCheck = &approveCheckJSON{Token: s.ApproveCheck.Token, Spender: s.ApproveCheck.Spender, MinRequiredAmount: required}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *TransactionStep) UnmarshalJSON(data []byte) error {
	var wire stepJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	value, err := parseWireAmount(wire.Value)
	if err != nil {
		return fmt.Errorf("step value: %w", err)
	}
	*s = TransactionStep{To: wire.To, Data: wire.Data, Value: value, Label: wire.Label}
	if wire.ApproveCheck != nil {
		required, err := parseWireAmount(wire.ApproveCheck.MinRequiredAmount)
		if err != nil {
			return fmt.Errorf("approveCheck minRequiredAmount: %w", err)
		}
		s.ApproveCheck = &ApproveCheck{Token: wire.ApproveCheck.Token, Spender: wire.ApproveCheck.Spender, MinRequiredAmount: required}
	}
	return nil
}

func parseWireAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return new(big.Int), nil
	}
	value, ok := new(big.Int).SetString(raw, 0)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}
