package strategyconfig

import (
	"time"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/internal/risk"
	"github.com/wonny/orbit/internal/strategy"
)

// Config는 하나의 instrument에 대한 전략 전체 설정
type Config struct {
	Meta            Meta                  `yaml:"meta" json:"meta"`
	Instrument      Instrument            `yaml:"instrument" json:"instrument"`
	Session         Session               `yaml:"session" json:"session"`
	Risk            Risk                  `yaml:"risk" json:"risk"`
	Split           risk.SplitConfig      `yaml:"split" json:"split"`
	Entries         strategy.Config       `yaml:"entries" json:"entries"`
	Ladder          contracts.TrailLadder `yaml:"ladder" json:"ladder"`
	ManualBreakeven ManualBreakeven       `yaml:"manual_breakeven" json:"manual_breakeven"`
	Bracket         Bracket               `yaml:"bracket" json:"bracket"`
	Indicators      Indicators            `yaml:"indicators" json:"indicators"`
	Follower        Follower              `yaml:"follower" json:"follower"`
}

// Meta 메타 정보
type Meta struct {
	StrategyID string `yaml:"strategy_id" json:"strategy_id"`
	Version    string `yaml:"version" json:"version"`
}

// Instrument 거래 종목 (tick, 계약 가치, 수량 범위)
type Instrument struct {
	Symbol       string  `yaml:"symbol" json:"symbol"`
	TickSize     float64 `yaml:"tick_size" json:"tick_size"`
	PointValue   float64 `yaml:"point_value" json:"point_value"` // $ per point per contract
	MinContracts int     `yaml:"min_contracts" json:"min_contracts"`
	MaxContracts int     `yaml:"max_contracts" json:"max_contracts"`
}

// Session opening range 구간
type Session struct {
	Timezone     string `yaml:"timezone" json:"timezone"`
	Start        string `yaml:"start" json:"start"` // HH:MM
	End          string `yaml:"end" json:"end"`     // HH:MM, start보다 작으면 자정 넘김
	RangeMinutes int    `yaml:"range_minutes" json:"range_minutes"`
}

// Risk 포지션당 $ 리스크
type Risk struct {
	PerTrade      float64 `yaml:"per_trade" json:"per_trade"`
	Reduced       float64 `yaml:"reduced" json:"reduced"`               // 손절 폭이 넓을 때
	StopThreshold float64 `yaml:"stop_threshold" json:"stop_threshold"` // points
}

// ManualBreakeven 수동 BE 설정
type ManualBreakeven struct {
	BufferTicks int `yaml:"buffer_ticks" json:"buffer_ticks"`
}

// Bracket 주문 검증 설정
type Bracket struct {
	MinStopDistanceTicks int `yaml:"min_stop_distance_ticks" json:"min_stop_distance_ticks"`
	SlippageWarnTicks    int `yaml:"slippage_warn_ticks" json:"slippage_warn_ticks"`
}

// Indicators bar 집계 설정
type Indicators struct {
	BarSeconds int   `yaml:"bar_seconds" json:"bar_seconds"`
	EMAPeriods []int `yaml:"ema_periods" json:"ema_periods"`
	RSIPeriod  int   `yaml:"rsi_period" json:"rsi_period"`
}

// Follower 카피 트레이딩 수신 측 설정
type Follower struct {
	Instrument             string                `yaml:"instrument" json:"instrument"` // 빈 값 = 전체 수신
	Risk                   Risk                  `yaml:"risk" json:"risk"`
	MinContracts           int                   `yaml:"min_contracts" json:"min_contracts"`
	MaxContracts           int                   `yaml:"max_contracts" json:"max_contracts"`
	Split                  risk.SplitConfig      `yaml:"split" json:"split"`
	UseMasterStopSync      bool                  `yaml:"use_master_stop_sync" json:"use_master_stop_sync"`
	UseMasterTrailSettings bool                  `yaml:"use_master_trail_settings" json:"use_master_trail_settings"`
	Ladder                 contracts.TrailLadder `yaml:"ladder" json:"ladder"`
}

// Sizing returns the primary sizer inputs
func (c *Config) Sizing() risk.SizingConfig {
	return risk.SizingConfig{
		Risk:          c.Risk.PerTrade,
		ReducedRisk:   c.Risk.Reduced,
		StopThreshold: c.Risk.StopThreshold,
		PointValue:    c.Instrument.PointValue,
		MinContracts:  c.Instrument.MinContracts,
		MaxContracts:  c.Instrument.MaxContracts,
	}
}

// FollowerSizing returns the follower sizer inputs
// point value는 같은 instrument 기준
func (c *Config) FollowerSizing() risk.SizingConfig {
	return risk.SizingConfig{
		Risk:          c.Follower.Risk.PerTrade,
		ReducedRisk:   c.Follower.Risk.Reduced,
		StopThreshold: c.Follower.Risk.StopThreshold,
		PointValue:    c.Instrument.PointValue,
		MinContracts:  c.Follower.MinContracts,
		MaxContracts:  c.Follower.MaxContracts,
	}
}

// Location returns the session timezone
func (s Session) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// Presets 기본 instrument 설정
var Presets = map[string]Instrument{
	"MES": {Symbol: "MES", TickSize: 0.25, PointValue: 5, MinContracts: 1, MaxContracts: 30},
	"MGC": {Symbol: "MGC", TickSize: 0.1, PointValue: 10, MinContracts: 1, MaxContracts: 15},
}

// Default returns the built-in configuration for symbol (MES when unknown)
func Default(symbol string) *Config {
	inst, ok := Presets[symbol]
	if !ok {
		inst = Presets["MES"]
	}

	return &Config{
		Meta:       Meta{StrategyID: "orbit_default", Version: "1.0.0"},
		Instrument: inst,
		Session: Session{
			Timezone:     "America/New_York",
			Start:        "09:30",
			End:          "16:00",
			RangeMinutes: 15,
		},
		Risk:            Risk{PerTrade: 200, Reduced: 200, StopThreshold: 5},
		Split:           risk.DefaultSplit(),
		Entries:         strategy.DefaultConfig(),
		Ladder:          contracts.DefaultTrailLadder(),
		ManualBreakeven: ManualBreakeven{BufferTicks: 1},
		Bracket:         Bracket{MinStopDistanceTicks: 2, SlippageWarnTicks: 1},
		Indicators:      Indicators{BarSeconds: 60, EMAPeriods: []int{9, 15}, RSIPeriod: 14},
		Follower: Follower{
			Risk:                   Risk{PerTrade: 200, Reduced: 200, StopThreshold: 5},
			MinContracts:           1,
			MaxContracts:           10,
			Split:                  risk.DefaultSplit(),
			UseMasterStopSync:      true,
			UseMasterTrailSettings: true,
			Ladder:                 contracts.DefaultTrailLadder(),
		},
	}
}

// Snapshot 설정 스냅샷 (재현성용)
type Snapshot struct {
	ConfigHash string    `json:"config_hash"`
	ConfigYAML string    `json:"config_yaml,omitempty"`
	StrategyID string    `json:"strategy_id"`
	Version    string    `json:"version"`
	Warnings   []Warning `json:"warnings,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
