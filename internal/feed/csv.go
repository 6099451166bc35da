package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/orbit/internal/contracts"
)

// ReadCSV parses "time,price[,instrument]" rows for replay
// time은 RFC3339 또는 unix 초; 헤더 줄은 건너뜀
func ReadCSV(r io.Reader, instrument string) ([]contracts.Tick, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var ticks []contracts.Tick
	for line := 1; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: want time,price", line)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "time") {
			continue
		}

		at, err := parseTime(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil || price <= 0 {
			return nil, fmt.Errorf("line %d: invalid price %q", line, rec[1])
		}

		sym := instrument
		if len(rec) > 2 && strings.TrimSpace(rec[2]) != "" {
			sym = strings.TrimSpace(rec[2])
		}
		if !strings.EqualFold(sym, instrument) {
			continue
		}
		ticks = append(ticks, contracts.Tick{Instrument: strings.ToUpper(instrument), Price: price, Time: at})
	}
	return ticks, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}
