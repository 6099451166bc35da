package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/internal/execution"
	"github.com/wonny/orbit/internal/ledger"
)

// ErrUnsupportedAction is returned for an action the slot does not accept
var ErrUnsupportedAction = errors.New("unsupported target action")

// Action is a manual target or runner action
type Action string

// Target actions (T1..T3)
const (
	ActionMarket      Action = "market"
	Action1Point      Action = "1point"
	Action2Point      Action = "2point"
	ActionMarketPrice Action = "marketprice"
	ActionBreakeven   Action = "breakeven"
	ActionCancel      Action = "cancel"
)

// Runner actions (market is shared with targets)
const (
	ActionStop1Pt      Action = "stop1pt"
	ActionStop2Pt      Action = "stop2pt"
	ActionStopBE       Action = "stopbe"
	ActionLock50       Action = "lock50"
	ActionDisableTrail Action = "disabletrail"
)

// TargetAction applies a manual action to one leg of a filled position
// 따라할 수 있는 액션만 TargetActionSignal로 전파
func (e *Engine) TargetAction(ctx context.Context, id string, slot contracts.TargetSlot, action Action) error {
	pos, ok := e.ledger.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}
	if !pos.EntryFilled {
		return fmt.Errorf("%w: position %s", execution.ErrEntryNotFilled, id)
	}

	var (
		kind contracts.TargetActionKind
		err  error
	)
	switch idx := slot.Index(); {
	case slot == contracts.SlotRunner:
		kind, err = e.runnerAction(ctx, pos, action)
	case idx >= 0:
		kind, err = e.targetAction(ctx, pos, idx, action)
	default:
		return fmt.Errorf("unknown target slot %q", slot)
	}
	if err != nil {
		return err
	}

	e.logger.WithFields(map[string]interface{}{
		"position_id": id,
		"slot":        slot,
		"action":      action,
	}).Info("Target action applied")

	if kind != "" {
		e.publish(contracts.TargetActionSignal{SignalID: id, Slot: slot, Action: kind})
	}
	return nil
}

func (e *Engine) targetAction(ctx context.Context, pos *contracts.Position, idx int, action Action) (contracts.TargetActionKind, error) {
	switch action {
	case ActionMarket:
		return contracts.ActionFillAtMarket, e.brackets.TargetMarket(ctx, pos.ID, idx)
	case Action1Point:
		return "", e.brackets.TargetReprice(ctx, pos.ID, idx, pos.Offset(pos.EntryPrice, 1))
	case Action2Point:
		return "", e.brackets.TargetReprice(ctx, pos.ID, idx, pos.Offset(pos.EntryPrice, 2))
	case ActionMarketPrice:
		last := e.brackets.LastPrice()
		if last <= 0 {
			return "", fmt.Errorf("%w: no last price", ErrNotReady)
		}
		return "", e.brackets.TargetReprice(ctx, pos.ID, idx, last)
	case ActionBreakeven:
		_, err := e.moveIfImproves(ctx, pos, e.brackets.BreakevenPrice(pos), contracts.LevelLabel(contracts.LevelBreakeven))
		return contracts.ActionMoveToBreakeven, err
	case ActionCancel:
		return contracts.ActionCancelTarget, e.brackets.TargetCancel(ctx, pos.ID, idx)
	default:
		return "", fmt.Errorf("%w: %q for target", ErrUnsupportedAction, action)
	}
}

func (e *Engine) runnerAction(ctx context.Context, pos *contracts.Position, action Action) (contracts.TargetActionKind, error) {
	switch action {
	case ActionMarket:
		return contracts.ActionFillAtMarket, e.brackets.RunnerMarket(ctx, pos.ID)
	case ActionStop1Pt:
		_, err := e.moveIfImproves(ctx, pos, pos.Offset(pos.ExtremePriceSinceEntry, -1), contracts.LabelSet)
		return "", err
	case ActionStop2Pt:
		_, err := e.moveIfImproves(ctx, pos, pos.Offset(pos.ExtremePriceSinceEntry, -2), contracts.LabelSet)
		return "", err
	case ActionStopBE:
		_, err := e.moveIfImproves(ctx, pos, e.brackets.BreakevenPrice(pos), contracts.LevelLabel(contracts.LevelBreakeven))
		return contracts.ActionMoveStopToEntry, err
	case ActionLock50:
		profit := pos.Profit(e.brackets.LastPrice())
		if e.brackets.LastPrice() <= 0 || profit <= 0 {
			return "", fmt.Errorf("position %s: no open profit to lock", pos.ID)
		}
		_, err := e.moveIfImproves(ctx, pos, pos.Offset(pos.EntryPrice, profit*0.5), contracts.LabelSet)
		return "", err
	case ActionDisableTrail:
		e.logger.WithField("position_id", pos.ID).Info("Trailing disabled by hand")
		return "", e.DisableTrailing(pos.ID)
	default:
		return "", fmt.Errorf("%w: %q for runner", ErrUnsupportedAction, action)
	}
}

// ActionFor maps a broadcast action back to the local action for slot
func ActionFor(kind contracts.TargetActionKind, slot contracts.TargetSlot) (Action, bool) {
	switch kind {
	case contracts.ActionFillAtMarket:
		return ActionMarket, true
	case contracts.ActionCancelTarget:
		return ActionCancel, slot != contracts.SlotRunner
	case contracts.ActionMoveToBreakeven, contracts.ActionMoveStopToEntry:
		if slot == contracts.SlotRunner {
			return ActionStopBE, true
		}
		return ActionBreakeven, true
	}
	return "", false
}
