package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/orbit/internal/api"
	"github.com/wonny/orbit/internal/api/handlers"
	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/internal/engine"
	"github.com/wonny/orbit/internal/execution"
	"github.com/wonny/orbit/internal/feed"
	"github.com/wonny/orbit/internal/relay"
	"github.com/wonny/orbit/internal/remote"
	"github.com/wonny/orbit/internal/scheduler"
	"github.com/wonny/orbit/internal/scheduler/jobs"
	"github.com/wonny/orbit/internal/signalbus"
	"github.com/wonny/orbit/pkg/config"
	"github.com/wonny/orbit/pkg/database"
	"github.com/wonny/orbit/pkg/logger"
	"github.com/wonny/orbit/pkg/redis"
)

// journalQueueSize bounds pending journal writes
const journalQueueSize = 1024

// primaryCmd represents the primary command
var primaryCmd = &cobra.Command{
	Use:   "primary",
	Short: "Primary 엔진 시작 (진입 + 시그널 발행)",
	Long: `Primary 엔진을 시작합니다.

이 명령어는:
- tick feed 수신 (FEED_WS_URL)
- opening range / indicator 계산
- bracket 주문 관리 (paper gateway)
- 시그널 발행 (RELAY_TRANSPORT: redis | websocket)
- 세션 종료 flatten / snapshot cron
- HTTP 제어 API

Endpoints:
  GET    /health
  GET    /api/status
  GET    /api/positions
  POST   /api/flatten
  POST   /api/breakeven
  POST   /api/entries
  PATCH  /api/entries/{id}
  DELETE /api/entries/{id}
  POST   /api/positions/{id}/targets/{slot}
  POST   /api/remote
  GET    /ws/signals
  GET    /metrics

Example:
  go run ./cmd/orbit primary
  go run ./cmd/orbit primary --strategy config/strategy/orbit_default.yaml --port 8090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstance(engine.RolePrimary)
	},
}

// followerCmd represents the follower command
var followerCmd = &cobra.Command{
	Use:   "follower",
	Short: "Follower 엔진 시작 (primary 시그널 복제)",
	Long: `Follower 엔진을 시작합니다.

Primary의 시그널을 수신하여 follower 수량으로 재계산 후 복제합니다.
- RELAY_TRANSPORT=redis: Redis pub/sub 구독
- RELAY_TRANSPORT=websocket: RELAY_WS_URL 접속

Example:
  ROLE=follower RELAY_TRANSPORT=websocket RELAY_WS_URL=ws://localhost:8089/ws/signals \
    go run ./cmd/orbit follower --port 8090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstance(engine.RoleFollower)
	},
}

func init() {
	rootCmd.AddCommand(primaryCmd)
	rootCmd.AddCommand(followerCmd)
}

// instance is one running engine and everything around it
type instance struct {
	cfg    *config.Config
	log    *logger.Logger
	role   engine.Role
	market *market
	paper  *execution.PaperGateway
	bus    *signalbus.Bus
	engine *engine.Engine
	actor  *engine.Actor
}

// feedTick runs on the actor goroutine
func (in *instance) feedTick(ctx context.Context, tick contracts.Tick) {
	if !strings.EqualFold(tick.Instrument, in.engine.Instrument()) {
		return
	}
	in.market.onTick(tick)
	in.engine.OnTick(ctx, tick)
}

func runInstance(role engine.Role) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port != "" {
		cfg.Port = port
	}
	cfg.Role = string(role)
	if strategyPath == "" {
		strategyPath = cfg.StrategyConfig
	}

	log := logger.New(cfg)

	strat, snap, err := loadStrategy(strategyPath, cfg.Instrument)
	if err != nil {
		return err
	}
	if !strings.EqualFold(strat.Instrument.Symbol, cfg.Instrument) {
		return fmt.Errorf("strategy instrument %s does not match INSTRUMENT=%s", strat.Instrument.Symbol, cfg.Instrument)
	}
	for _, w := range snap.Warnings {
		log.WithField("code", w.Code).Warn(w.Message)
	}
	log.WithFields(map[string]interface{}{
		"strategy_id": snap.StrategyID,
		"version":     snap.Version,
		"config_hash": snap.ConfigHash,
	}).Info("Strategy loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// 1. Journal (optional)
	var journal execution.Journal
	if cfg.JournalEnabled {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		repo := execution.NewRepository(db.Pool)
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		writer := execution.NewJournalWriter(repo, journalQueueSize, cfg.Engine.JournalWrite, log)
		g.Go(func() error { return writer.Run(ctx) })
		journal = writer
		log.Info("Journal enabled")
	}

	// 2. Redis (relay + snapshot cache)
	rdb, err := redis.New(cfg, redis.WithLogger(log))
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()
	var cache *redis.Cache
	if rdb.Enabled() {
		cache = redis.NewCache(rdb, redis.InstancePrefix(cfg.InstanceID))
	}

	// 3. Engine
	m, err := newMarket(strat, log)
	if err != nil {
		return err
	}
	in := &instance{
		cfg:    cfg,
		log:    log,
		role:   role,
		market: m,
		paper:  execution.NewPaperGateway(strat.Instrument.TickSize),
		bus:    signalbus.New(log),
	}
	in.engine = newEngine(role, strat, m, in.paper, in.bus, journal, log)
	in.actor = engine.NewActor(cfg.Engine.QueueSize, in.engine.Pump, log)
	g.Go(func() error { return in.actor.Run(ctx) })

	if role == engine.RoleFollower {
		mirror := newMirror(strat, in.engine, in.bus, log)
		mirror.Start(ctx)
		defer mirror.Stop()
	}

	// 4. Tick feed
	if cfg.FeedURL != "" {
		client := feed.NewClient(cfg.FeedURL, strat.Instrument.Symbol, func(tick contracts.Tick) {
			if err := in.actor.TryPost(func(ctx context.Context) { in.feedTick(ctx, tick) }); err != nil {
				log.WithError(err).Warn("Tick dropped")
			}
		}, log)
		g.Go(func() error { return client.Run(ctx) })
	} else {
		log.Warn("FEED_WS_URL not set, engine waits for market data")
	}

	// 5. Signal relay
	var hub *relay.Hub
	switch {
	case cfg.Relay.Transport == "redis" && role == engine.RolePrimary:
		pub := relay.NewRedisPublisher(rdb, in.bus, cfg.Relay.Channel, strat.Instrument.Symbol, log)
		g.Go(func() error { return pub.Run(ctx) })
	case cfg.Relay.Transport == "redis":
		sub := relay.NewRedisSubscriber(rdb, in.bus, in.actor, cfg.Relay.Channel, strat.Instrument.Symbol, log)
		g.Go(func() error { return sub.Run(ctx) })
	case cfg.Relay.Transport == "websocket" && role == engine.RolePrimary:
		hub = relay.NewHub(in.bus, log)
		g.Go(func() error { return hub.Run(ctx) })
	case cfg.Relay.Transport == "websocket":
		sub := relay.NewWSSubscriber(cfg.Relay.WSURL, in.bus, in.actor, log)
		g.Go(func() error { return sub.Run(ctx) })
	}

	// 6. Cron jobs
	sched, err := newScheduler(cfg, in, cache, log)
	if err != nil {
		return err
	}
	g.Go(func() error { return sched.Run(ctx) })

	// 7. HTTP API
	routes := api.Routes{
		Engine:  handlers.NewEngineHandler(in.actor, in.engine, cache, sched, snap.ConfigHash, log),
		Remote:  handlers.NewRemoteHandler(in.actor, remote.NewDispatcher(in.engine, cfg.Remote.RatePerSec, cfg.Remote.Burst, log), log),
		Metrics: cfg.MetricsEnabled,
	}
	if hub != nil {
		routes.Signals = hub.HandleWS
	}
	server := api.New(cfg, log, api.NewRouter(routes, log))
	g.Go(func() error { return server.Run(ctx) })

	fmt.Printf("\n✅ %s %s running on http://localhost:%s (relay: %s)\n", role, strat.Instrument.Symbol, cfg.Port, cfg.Relay.Transport)
	fmt.Println("\nPress Ctrl+C to stop")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Stopped")
	return nil
}

// newScheduler registers the session-end flatten, reconcile and snapshot jobs
func newScheduler(cfg *config.Config, in *instance, cache *redis.Cache, log *logger.Logger) (*scheduler.Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule timezone: %w", err)
	}
	sched := scheduler.New(loc, log)

	list := []scheduler.Job{
		jobs.NewSessionFlattenJob(in.actor, in.engine, cfg.Schedule.SessionFlatten, log),
		jobs.NewReconcileJob(in.actor, in.engine, cfg.Schedule.Reconcile, log),
	}
	if cache != nil {
		list = append(list, jobs.NewSnapshotJob(in.actor, in.engine, cache, cfg.Schedule.Snapshot, log))
	}
	for _, job := range list {
		if err := sched.AddJob(job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
