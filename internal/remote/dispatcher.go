package remote

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/pkg/logger"
	"github.com/wonny/orbit/pkg/metrics"
)

// ErrRateLimited is returned when commands arrive faster than allowed
var ErrRateLimited = errors.New("remote command rate limited")

// ErrUnsupported is returned for actions the engine does not implement
var ErrUnsupported = errors.New("remote action not supported")

// Executor is the engine surface remote commands drive
type Executor interface {
	ExecuteDirectional(ctx context.Context, symbol string, dir contracts.Direction) error
	FlattenAll(ctx context.Context, reason string) int
}

// Result describes what a command did
type Result struct {
	Action  Action `json:"action"`
	Symbol  string `json:"symbol"`
	Flatten int    `json:"flattened,omitempty"`
}

// Dispatcher parses, throttles, and executes remote commands
// ⭐ 엔진 goroutine(actor) 안에서 호출되어야 함
type Dispatcher struct {
	exec    Executor
	limiter *rate.Limiter
	logger  *logger.Logger
}

// NewDispatcher creates a dispatcher allowing ratePerSec commands with burst
func NewDispatcher(exec Executor, ratePerSec float64, burst int, log *logger.Logger) *Dispatcher {
	if burst < 1 {
		burst = 1
	}
	return &Dispatcher{
		exec:    exec,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		logger:  log.WithField("component", "remote"),
	}
}

// Dispatch handles one raw line
func (d *Dispatcher) Dispatch(ctx context.Context, line string) (Result, error) {
	if !d.limiter.Allow() {
		metrics.RemoteCommands.WithLabelValues("any", "rate_limited").Inc()
		d.logger.WithField("raw", line).Warn("Remote command rate limited")
		return Result{}, ErrRateLimited
	}

	cmd, err := Parse(line)
	if err != nil {
		metrics.RemoteCommands.WithLabelValues(string(cmd.Action), "rejected").Inc()
		d.logger.WithError(err).WithField("raw", line).Warn("Remote command rejected")
		return Result{Action: cmd.Action}, err
	}

	log := d.logger.WithFields(map[string]interface{}{
		"action": cmd.Action,
		"symbol": cmd.Symbol,
	})
	if cmd.HasQty {
		log = log.WithField("qty", cmd.Qty.String())
	}

	res := Result{Action: cmd.Action, Symbol: cmd.Symbol}
	switch cmd.Action {
	case ActionLong:
		err = d.exec.ExecuteDirectional(ctx, cmd.Symbol, contracts.Long)
	case ActionShort:
		err = d.exec.ExecuteDirectional(ctx, cmd.Symbol, contracts.Short)
	case ActionClose:
		res.Flatten = d.exec.FlattenAll(ctx, "remote close")
	case ActionModify:
		err = fmt.Errorf("%w: %s", ErrUnsupported, cmd.Action)
	}

	if err != nil {
		metrics.RemoteCommands.WithLabelValues(string(cmd.Action), "failed").Inc()
		log.WithError(err).Warn("Remote command failed")
		return res, err
	}

	metrics.RemoteCommands.WithLabelValues(string(cmd.Action), "ok").Inc()
	log.Info("Remote command executed")
	return res, nil
}
