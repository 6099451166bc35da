package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	strategyPath string
	port         string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "orbit",
	Short: "Orbit - opening range bracket engine with copy trading",
	Long: `Orbit Unified CLI

Intraday bracket 주문 엔진.
Primary가 진입/손절/목표를 관리하고 follower가 시그널을 따라 복제합니다.

Usage:
  go run ./cmd/orbit [command]

Examples:
  go run ./cmd/orbit primary
  go run ./cmd/orbit follower
  go run ./cmd/orbit replay --file ticks.csv --entry BREAKOUT:LONG --follower
  go run ./cmd/orbit config check config/strategy/orbit_default.yaml`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&strategyPath, "strategy", "", "strategy YAML (default: STRATEGY_CONFIG or built-in)")
	rootCmd.PersistentFlags().StringVar(&port, "port", "", "API port (default: PORT)")
}
