package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/internal/engine"
	"github.com/wonny/orbit/internal/execution"
	"github.com/wonny/orbit/internal/feed"
	"github.com/wonny/orbit/internal/signalbus"
	"github.com/wonny/orbit/internal/strategy"
	"github.com/wonny/orbit/internal/strategyconfig"
	"github.com/wonny/orbit/pkg/logger"
)

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Tick CSV로 paper 실행",
	Long: `Tick CSV(time,price[,instrument])를 paper gateway로 재생합니다.

--entry는 opening range가 완성될 때마다 제출할 진입입니다.
형식: MODE:DIRECTION[:PRICE]

Example:
  go run ./cmd/orbit replay --file ticks.csv --entry BREAKOUT:LONG --entry BREAKOUT:SHORT
  go run ./cmd/orbit replay --file ticks.csv --entry PULLBACK:LONG:5010.25 --follower`,
	RunE: runReplay,
}

var (
	replayFile     string
	replayFollower bool
	replayEntries  []string
	replayVerbose  bool
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&replayFile, "file", "", "tick CSV path")
	replayCmd.Flags().BoolVar(&replayFollower, "follower", false, "mirror into an in-process follower")
	replayCmd.Flags().StringArrayVar(&replayEntries, "entry", nil, "entry submitted at each range completion (MODE:DIRECTION[:PRICE])")
	replayCmd.Flags().BoolVarP(&replayVerbose, "verbose", "v", false, "print engine logs")
	_ = replayCmd.MarkFlagRequired("file")
}

// ReplaySummary is printed at the end of a replay
type ReplaySummary struct {
	Ticks     int                  `json:"ticks"`
	Sessions  int                  `json:"sessions"`
	Rejected  int                  `json:"rejected_entries"`
	Primary   EngineSummary        `json:"primary"`
	Follower  *EngineSummary       `json:"follower,omitempty"`
	Positions []contracts.Position `json:"open_positions"`
}

// EngineSummary is one engine's end state
type EngineSummary struct {
	Stats       engine.Stats `json:"stats"`
	Open        int          `json:"open"`
	NetPosition int          `json:"net_position"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	entries, err := parseEntries(replayEntries)
	if err != nil {
		return err
	}

	instrument := "MES"
	if v := os.Getenv("INSTRUMENT"); v != "" {
		instrument = v
	}
	strat, snap, err := loadStrategy(strategyPath, instrument)
	if err != nil {
		return err
	}

	f, err := os.Open(replayFile)
	if err != nil {
		return fmt.Errorf("open ticks: %w", err)
	}
	defer f.Close()
	ticks, err := feed.ReadCSV(f, strat.Instrument.Symbol)
	if err != nil {
		return err
	}

	log := logger.Nop()
	if replayVerbose {
		log = logger.NewWithWriter(os.Stderr)
	}

	fmt.Printf("=== Orbit replay: %s (%d ticks, config %s) ===\n", strat.Instrument.Symbol, len(ticks), snap.ConfigHash[:12])

	sum, err := replay(context.Background(), strat, ticks, entries, replayFollower, log)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// parseEntries parses MODE:DIRECTION[:PRICE] flags
func parseEntries(raw []string) ([]strategy.Request, error) {
	reqs := make([]strategy.Request, 0, len(raw))
	for _, s := range raw {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid --entry %q: want MODE:DIRECTION[:PRICE]", s)
		}
		req := strategy.Request{
			Mode:      contracts.Mode(strings.ToUpper(parts[0])),
			Direction: contracts.Direction(strings.ToUpper(parts[1])),
		}
		if !req.Direction.Valid() {
			return nil, fmt.Errorf("invalid --entry %q: direction must be LONG or SHORT", s)
		}
		if len(parts) == 3 {
			price, err := strconv.ParseFloat(parts[2], 64)
			if err != nil || price <= 0 {
				return nil, fmt.Errorf("invalid --entry %q: bad price", s)
			}
			req.Price = price
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// replay drives a primary (and optional follower) over ticks on one goroutine
// follower를 먼저 갱신해야 복제된 stop이 같은 시세로 검증됨
func replay(ctx context.Context, strat *strategyconfig.Config, ticks []contracts.Tick, entries []strategy.Request, withFollower bool, log *logger.Logger) (*ReplaySummary, error) {
	m, err := newMarket(strat, log)
	if err != nil {
		return nil, err
	}

	bus := signalbus.New(log)
	primaryPaper := execution.NewPaperGateway(strat.Instrument.TickSize)
	primary := newEngine(engine.RolePrimary, strat, m, primaryPaper, bus, nil, log)

	var (
		followerEngine *engine.Engine
		followerPaper  *execution.PaperGateway
	)
	if withFollower {
		followerPaper = execution.NewPaperGateway(strat.Instrument.TickSize)
		followerEngine = newEngine(engine.RoleFollower, strat, m, followerPaper, bus, nil, log)
		mirror := newMirror(strat, followerEngine, bus, log)
		mirror.Start(ctx)
		defer mirror.Stop()
	}

	sum := &ReplaySummary{}
	complete := false
	for _, tick := range ticks {
		m.onTick(tick)
		if followerEngine != nil {
			followerEngine.OnTick(ctx, tick)
			followerEngine.Pump(ctx)
		}
		primary.OnTick(ctx, tick)
		primary.Pump(ctx)
		sum.Ticks++

		// range 완성 시점에 한 번씩 진입
		r := m.tracker.Range()
		if r.Complete && !complete {
			sum.Sessions++
			for _, req := range entries {
				if _, err := primary.EnterEntry(ctx, req); err != nil {
					sum.Rejected++
					log.WithError(err).WithField("mode", req.Mode).Warn("Replay entry rejected")
				}
				primary.Pump(ctx)
			}
		}
		complete = r.Complete
	}

	sum.Primary = engineSummary(primary, primaryPaper)
	if followerEngine != nil {
		fs := engineSummary(followerEngine, followerPaper)
		sum.Follower = &fs
	}
	sum.Positions = primary.Snapshot()
	return sum, nil
}

func engineSummary(e *engine.Engine, paper *execution.PaperGateway) EngineSummary {
	return EngineSummary{
		Stats:       e.Stats(),
		Open:        e.Ledger().Len(),
		NetPosition: paper.Position(),
	}
}
