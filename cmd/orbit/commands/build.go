package commands

import (
	"fmt"
	"time"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/internal/engine"
	"github.com/wonny/orbit/internal/execution"
	"github.com/wonny/orbit/internal/follower"
	"github.com/wonny/orbit/internal/indicator"
	"github.com/wonny/orbit/internal/risk"
	"github.com/wonny/orbit/internal/session"
	"github.com/wonny/orbit/internal/signalbus"
	"github.com/wonny/orbit/internal/strategy"
	"github.com/wonny/orbit/internal/strategyconfig"
	"github.com/wonny/orbit/internal/trailing"
	"github.com/wonny/orbit/pkg/logger"
)

// loadStrategy reads the strategy YAML (flag > STRATEGY_CONFIG > built-in)
func loadStrategy(path, instrument string) (*strategyconfig.Config, *strategyconfig.Snapshot, error) {
	strat, data, err := strategyconfig.LoadOrDefault(path, instrument)
	if err != nil {
		return nil, nil, fmt.Errorf("load strategy: %w", err)
	}
	snap, err := strategyconfig.NewSnapshot(strat, data)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot strategy: %w", err)
	}
	return strat, snap, nil
}

// market is the per-instrument market state every engine reads
type market struct {
	tracker    *session.Tracker
	indicators *indicator.Set
}

func newMarket(strat *strategyconfig.Config, log *logger.Logger) (*market, error) {
	loc, err := strat.Session.Location()
	if err != nil {
		return nil, fmt.Errorf("session timezone: %w", err)
	}
	tracker, err := session.NewTracker(session.Config{
		Start:     strat.Session.Start,
		End:       strat.Session.End,
		ORMinutes: strat.Session.RangeMinutes,
		Location:  loc,
	}, log)
	if err != nil {
		return nil, err
	}

	interval := time.Duration(strat.Indicators.BarSeconds) * time.Second
	ind, err := indicator.New(interval, indicatorSpecs(strat), log)
	if err != nil {
		return nil, err
	}
	return &market{tracker: tracker, indicators: ind}, nil
}

// onTick folds one trade into the range and the bars
func (m *market) onTick(tick contracts.Tick) {
	m.tracker.OnTick(tick.Price, tick.Time)
	m.indicators.OnTick(tick.Price, tick.Time)
}

// indicatorSpecs lists every series the planner and trailing anchors read
func indicatorSpecs(strat *strategyconfig.Config) []indicator.Spec {
	specs := []indicator.Spec{{Kind: contracts.IndicatorATR, Period: strat.Entries.ATRPeriod}}
	for _, p := range strat.Indicators.EMAPeriods {
		specs = append(specs, indicator.Spec{Kind: contracts.IndicatorEMA, Period: p})
	}
	if strat.Indicators.RSIPeriod > 0 {
		specs = append(specs, indicator.Spec{Kind: contracts.IndicatorRSI, Period: strat.Indicators.RSIPeriod})
	}
	for _, mode := range contracts.Modes {
		rule, ok := strat.Entries.Rule(mode)
		if !ok || rule.Anchor == nil {
			continue
		}
		specs = append(specs,
			indicator.Spec{Kind: rule.Anchor.Indicator, Period: rule.Anchor.Period},
			indicator.Spec{Kind: contracts.IndicatorATR, Period: rule.Anchor.VolatilityPeriod},
		)
	}
	return specs
}

// newEngine builds one engine over gw; the planner is attached for the primary only
func newEngine(role engine.Role, strat *strategyconfig.Config, m *market, gw *execution.PaperGateway, bus *signalbus.Bus, journal execution.Journal, log *logger.Logger) *engine.Engine {
	bracket := execution.DefaultBracketConfig()
	bracket.MinStopDistanceTicks = strat.Bracket.MinStopDistanceTicks
	bracket.SlippageWarnTicks = strat.Bracket.SlippageWarnTicks

	var planner *strategy.Planner
	if role == engine.RolePrimary {
		sizer := risk.NewSizer(strat.Sizing(), strat.Split)
		planner = strategy.NewPlanner(strat.Entries, strat.Ladder, sizer, m.indicators, m.tracker,
			strat.Instrument.TickSize, gw.RoundToTick, log)
	}

	return engine.New(engine.Config{
		Role:       role,
		Instrument: strat.Instrument.Symbol,
		ATRPeriod:  strat.Entries.ATRPeriod,
		Bracket:    bracket,
		Trailing: trailing.Config{
			TickSize:                   strat.Instrument.TickSize,
			ManualBreakevenBufferTicks: strat.ManualBreakeven.BufferTicks,
		},
	}, engine.Deps{
		Gateway:    gw,
		Journal:    journal,
		Indicators: m.indicators,
		Ranges:     m.tracker,
		Planner:    planner,
		Bus:        bus,
	}, log)
}

// newMirror subscribes follower engine e to bus with the follower sizing
func newMirror(strat *strategyconfig.Config, e *engine.Engine, bus *signalbus.Bus, log *logger.Logger) *follower.Mirror {
	f := strat.Follower
	return follower.New(e, bus, risk.NewSizer(strat.FollowerSizing(), f.Split), follower.Config{
		Instrument:             f.Instrument,
		UseMasterStopSync:      f.UseMasterStopSync,
		UseMasterTrailSettings: f.UseMasterTrailSettings,
		Ladder:                 f.Ladder,
	}, log)
}
