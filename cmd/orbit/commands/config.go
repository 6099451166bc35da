package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Strategy 설정 관리",
}

// configCheckCmd validates a strategy file
var configCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Strategy YAML 검증 + config hash 출력",
	Long: `Strategy YAML을 검증하고 config hash와 경고를 출력합니다.
path 생략 시 --strategy, 그것도 없으면 내장 기본값을 검사합니다.

Example:
  go run ./cmd/orbit config check config/strategy/orbit_default.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := strategyPath
		if len(args) == 1 {
			path = args[0]
		}
		return checkStrategy(cmd.OutOrStdout(), path)
	},
}

func init() {
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

func checkStrategy(w io.Writer, path string) error {
	strat, snap, err := loadStrategy(path, "MES")
	if err != nil {
		return err
	}

	source := path
	if source == "" {
		source = "(built-in)"
	}
	fmt.Fprintf(w, "✅ %s OK\n", source)
	fmt.Fprintf(w, "  strategy:    %s %s\n", snap.StrategyID, snap.Version)
	fmt.Fprintf(w, "  instrument:  %s (tick %g)\n", strat.Instrument.Symbol, strat.Instrument.TickSize)
	fmt.Fprintf(w, "  session:     %s-%s %s, range %dm\n", strat.Session.Start, strat.Session.End, strat.Session.Timezone, strat.Session.RangeMinutes)
	fmt.Fprintf(w, "  config_hash: %s\n", snap.ConfigHash)
	for _, warn := range snap.Warnings {
		fmt.Fprintf(w, "  ⚠️  [%s] %s\n", warn.Code, warn.Message)
	}
	return nil
}
