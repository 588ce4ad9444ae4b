package intent

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"

	xerrors "IntentForge/internal/errors"
)

// SwapParams are the parameters of a single-hop exact-input swap.
type SwapParams struct {
	TokenIn  string   `param:"tokenIn" validate:"required"`
	TokenOut string   `param:"tokenOut" validate:"required"`
	Amount   string   `param:"amount" validate:"required"`
	Slippage *float64 `param:"slippage" validate:"omitempty,gte=0,lte=50"`
}

// TransferParams move a native or ERC20 amount to a recipient.
type TransferParams struct {
	Token  string `param:"token" validate:"required"`
	To     string `param:"to" validate:"required,eth_addr"`
	Amount string `param:"amount" validate:"required"`
}

// ApproveParams set an explicit ERC20 allowance. An empty Amount, "max" or
// "unlimited" approve MaxUint256.
type ApproveParams struct {
	Token   string `param:"token" validate:"required"`
	Spender string `param:"spender" validate:"required,eth_addr"`
	Amount  string `param:"amount"`
}

// AaveParams cover supply, borrow, repay and withdraw. InterestRateMode is
// only read by borrow and repay; zero means variable.
type AaveParams struct {
	Token            string `param:"token" validate:"required"`
	Amount           string `param:"amount" validate:"required"`
	InterestRateMode int    `param:"interestRateMode" validate:"omitempty,oneof=1 2"`
}

// LiquidityParams describe a full-range position on Uniswap V3 or V4.
type LiquidityParams struct {
	Token0      string `param:"token0" validate:"required"`
	Token1      string `param:"token1" validate:"required"`
	Amount0     string `param:"amount0" validate:"required"`
	Amount1     string `param:"amount1" validate:"required"`
	FeeTier     uint32 `param:"feeTier" validate:"omitempty,lt=1000000"`
	HookAddress string `param:"hookAddress" validate:"omitempty,eth_addr"`
}

// ClaimParams describe a Merkle distributor claim. Index and Amount are raw
// integers; Proof entries are 32-byte hex strings.
type ClaimParams struct {
	ContractAddress string   `param:"contractAddress" validate:"required,eth_addr"`
	Index           string   `param:"index" validate:"required"`
	Amount          string   `param:"amount" validate:"required"`
	Proof           []string `param:"proof" validate:"dive,len=66,hexadecimal"`
	TokenSymbol     string   `param:"tokenSymbol"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("param"); name != "" {
			return name
		}
		return field.Name
	})
	return v
}

// decodeParams copies a loosely typed parameter map into a params struct.
// Numbers may arrive as JSON numbers or strings; keys match case-insensitively.
func decodeParams(raw map[string]any, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decode params into %T: want pointer to struct", out)
	}
	rv = rv.Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		name := rt.Field(i).Tag.Get("param")
		if name == "" {
			continue
		}
		value, ok := lookupParam(raw, name)
		if !ok || value == nil {
			continue
		}
		if err := assignParam(rv.Field(i), value); err != nil {
			return paramErrorf("parameter %s: %v", name, err)
		}
	}
	return nil
}

func lookupParam(raw map[string]any, name string) (any, bool) {
	if value, ok := raw[name]; ok {
		return value, true
	}
	for key, value := range raw {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return nil, false
}

func assignParam(field reflect.Value, value any) error {
	switch field.Kind() {
	case reflect.Pointer:
		elem := reflect.New(field.Type().Elem())
		if err := assignParam(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
	case reflect.String:
		s, err := cast.ToStringE(value)
		if err != nil {
			return err
		}
		field.SetString(strings.TrimSpace(s))
	case reflect.Int, reflect.Int64:
		n, err := cast.ToInt64E(trimNumber(value))
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint32, reflect.Uint64:
		n, err := cast.ToUint64E(trimNumber(value))
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float64:
		f, err := cast.ToFloat64E(trimNumber(value))
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list type %s", field.Type())
		}
		list, err := stringList(value)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(list))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// trimNumber tolerates "0.5%" and padded numeric strings.
func trimNumber(value any) any {
	if s, ok := value.(string); ok {
		return strings.TrimSuffix(strings.TrimSpace(s), "%")
	}
	return value
}

// stringList accepts a JSON array or a comma-joined string and drops blanks.
func stringList(value any) ([]string, error) {
	var items []string
	if s, ok := value.(string); ok {
		items = strings.Split(s, ",")
	} else {
		list, err := cast.ToStringSliceE(value)
		if err != nil {
			return nil, err
		}
		items = list
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

func validateParams(params any) error {
	err := validate.Struct(params)
	if err == nil {
		return nil
	}
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) && len(invalid) > 0 {
		fe := invalid[0]
		if fe.Tag() == "required" {
			return paramErrorf("missing parameter %s", fe.Field())
		}
		if fe.Param() != "" {
			return paramErrorf("parameter %s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
		}
		return paramErrorf("parameter %s failed %s (got %v)", fe.Field(), fe.Tag(), fe.Value())
	}
	return xerrors.Wrap(xerrors.CodeParam, err, "invalid parameters")
}
