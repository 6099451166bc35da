package main

import (
	"os"

	// 세션 시간대 계산용 (컨테이너에 zoneinfo 없음)
	_ "time/tzdata"

	"github.com/wonny/orbit/cmd/orbit/commands"
)

// main is the entry point for the orbit CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/orbit [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
