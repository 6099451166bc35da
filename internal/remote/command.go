package remote

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnknownAction is returned for a command with no known action
var ErrUnknownAction = errors.New("unknown remote action")

// ErrMalformed is returned for a line that is not ACTION|SYMBOL[|QTY]
var ErrMalformed = errors.New("malformed remote command")

// Action is a remote trading action
type Action string

const (
	ActionLong    Action = "LONG"
	ActionShort   Action = "SHORT"
	ActionClose   Action = "CLOSE"
	ActionModify  Action = "MODIFY"
	ActionUnknown Action = "UNKNOWN"
)

// Command is one parsed remote line
type Command struct {
	Action Action
	Symbol string
	Qty    decimal.Decimal // 선택, 사이징은 엔진이 결정
	HasQty bool
	Raw    string
}

// Parse reads "ACTION|SYMBOL[|QTY]"
// action은 대소문자 무시, symbol은 대문자로 정규화
func Parse(line string) (Command, error) {
	raw := strings.TrimSpace(line)
	cmd := Command{Action: ActionUnknown, Raw: raw}
	if raw == "" {
		return cmd, fmt.Errorf("%w: empty line", ErrMalformed)
	}

	parts := strings.Split(raw, "|")
	if len(parts) < 2 || len(parts) > 3 {
		return cmd, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}

	switch a := Action(strings.ToUpper(strings.TrimSpace(parts[0]))); a {
	case ActionLong, ActionShort, ActionClose, ActionModify:
		cmd.Action = a
	default:
		return cmd, fmt.Errorf("%w: %q", ErrUnknownAction, parts[0])
	}

	cmd.Symbol = strings.ToUpper(strings.TrimSpace(parts[1]))
	if cmd.Symbol == "" {
		return cmd, fmt.Errorf("%w: missing symbol", ErrMalformed)
	}

	if len(parts) == 3 {
		qty, err := decimal.NewFromString(strings.TrimSpace(parts[2]))
		if err != nil {
			return cmd, fmt.Errorf("%w: quantity %q", ErrMalformed, parts[2])
		}
		if qty.IsNegative() {
			return cmd, fmt.Errorf("%w: negative quantity %s", ErrMalformed, qty)
		}
		cmd.Qty = qty
		cmd.HasQty = true
	}

	return cmd, nil
}
