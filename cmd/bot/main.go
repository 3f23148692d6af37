package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"candlebot/config"
	"candlebot/internal/api"
	"candlebot/internal/candles"
	"candlebot/internal/engine"
	"candlebot/internal/exchange"
	"candlebot/internal/lifecycle"
	"candlebot/internal/logger"
	"candlebot/internal/logq"
	"candlebot/internal/metrics"
	"candlebot/internal/model"
	"candlebot/internal/notification"
	"candlebot/internal/prices"
	"candlebot/internal/report"
	redisstore "candlebot/internal/store/redis"
	"candlebot/internal/strategy"
	"candlebot/internal/workspace"
)

func main() {
	cfg := config.Load()
	logger.Init("candlebot", logger.ParseLevel(cfg.LogLevel))
	slog.Info("starting")

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Workspace ----
	if dir := filepath.Dir(cfg.WorkspacePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	ws, err := workspace.Open(cfg.WorkspacePath)
	if err != nil {
		slog.Error("workspace init failed", "err", err)
		os.Exit(1)
	}
	defer ws.Close()

	// ---- Merge bootstrap file into the workspace ----
	boot, err := config.LoadBootstrap(cfg.StrategiesFile)
	if err != nil {
		slog.Error("bootstrap load failed", "file", cfg.StrategiesFile, "err", err)
		os.Exit(1)
	}
	for _, symbol := range boot.Watchlist {
		if err := ws.AddSymbol(symbol); err != nil {
			slog.Warn("watchlist merge failed", "symbol", symbol, "err", err)
		}
	}
	for _, sc := range boot.Strategies {
		if err := ws.AddStrategy(sc); err != nil {
			// Already stored on a previous run.
			slog.Debug("bootstrap strategy skipped", "type", sc.Type, "symbol", sc.Symbol, "err", err)
		}
	}

	// ---- Redis publisher (optional) ----
	var pub *redisstore.Publisher
	if cfg.RedisAddr != "" {
		pub, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			slog.Warn("redis init failed, continuing without publishing", "err", err)
			pub = nil
		} else {
			pub.ObserveDur = func(d time.Duration) { prom.RedisPublishDur.Observe(d.Seconds()) }
		}
	}
	health.StartLivenessChecker(ctx, pub.Client(), ws.DB(), 10*time.Second)

	// ---- Venue ----
	venue := exchange.NewCoinbase(exchange.Config{
		APIKey:    cfg.CoinbaseAPIKey,
		APISecret: cfg.CoinbaseAPISecret,
		RESTURL:   cfg.CoinbaseRESTURL,
	})
	assets, err := venue.Assets(ctx)
	if err != nil {
		slog.Error("asset catalog fetch failed", "err", err)
		os.Exit(1)
	}
	slog.Info("asset catalog loaded", "assets", len(assets))

	// ---- Notifications ----
	notifier := notification.Multi{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifier = append(notifier, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		notifier = append(notifier, notification.NewWebhookNotifier(cfg.WebhookURL))
	}

	// ---- Core components ----
	logs := logq.New(256)
	board := prices.NewBoard()
	registry := strategy.NewRegistry()

	mgr := lifecycle.NewManager(venue, logs, lifecycle.Config{
		PollInterval:         cfg.FillPollInterval,
		MaxPollAttempts:      cfg.FillPollMaxAttempts,
		PollBackoff:          cfg.FillPollBackoff,
		AllowShortTakeProfit: cfg.AllowShortTakeProfit,
	})
	mgr.OnTradeOpened = func(t model.Trade) {
		prom.SignalsTotal.WithLabelValues(t.StrategyName, string(t.Side)).Inc()
		prom.TradesOpened.Inc()
		prom.OpenPositions.Inc()
		if err := ws.RecordTrade(t); err != nil {
			slog.Warn("trade journal write failed", "err", err)
		}
		pub.PublishTrade(ctx, t)
		notifier.Send(ctx, notification.TradeOpenedAlert(t))
	}
	mgr.OnTradeClosed = func(t model.Trade) {
		prom.TradesClosed.Inc()
		prom.OpenPositions.Dec()
		if err := ws.RecordTrade(t); err != nil {
			slog.Warn("trade journal write failed", "err", err)
		}
		pub.PublishTrade(ctx, t)
		notifier.Send(ctx, notification.TradeClosedAlert(t))
	}
	mgr.OnOrderFailure = prom.OrderFailures.Inc
	mgr.OnPollAttempt = prom.FillPollAttempts.Inc

	eng := engine.New(board, registry, pub, cfg.EventBuffer)
	eng.OnTick = func(model.MarketEvent) {
		prom.TicksTotal.Inc()
		health.SetLastTickTime(time.Now())
	}
	eng.OnCandleEvent = func(e candles.Event) { prom.CandleEvents.WithLabelValues(e.String()).Inc() }
	eng.OnGapCandles = func(n int) { prom.GapCandles.Add(float64(n)) }
	eng.OnStaleTick = prom.StaleTicks.Inc
	eng.OnDroppedEvent = prom.DroppedEvents.Inc
	eng.ObserveIngest = func(d time.Duration) { prom.IngestDur.Observe(d.Seconds()) }

	// ---- Build strategies and seed their candle series ----
	strategyCfgs, err := ws.Strategies()
	if err != nil {
		slog.Error("strategy load failed", "err", err)
		os.Exit(1)
	}

	watched := make(map[string]model.Asset)
	for _, sc := range strategyCfgs {
		asset, ok := assets[sc.Symbol]
		if !ok {
			slog.Warn("strategy references unknown symbol, skipping", "symbol", sc.Symbol)
			continue
		}

		b, ok := eng.Builder(sc.Symbol, sc.Timeframe)
		if !ok {
			series, err := candles.NewSeries(asset, sc.Timeframe)
			if err != nil {
				slog.Warn("series init failed, skipping strategy", "symbol", sc.Symbol, "tf", string(sc.Timeframe), "err", err)
				continue
			}
			history, err := venue.HistoricalCandles(ctx, asset, sc.Timeframe)
			if err != nil {
				slog.Warn("history fetch failed, skipping strategy", "symbol", sc.Symbol, "tf", string(sc.Timeframe), "err", err)
				continue
			}
			if err := series.Seed(history); err != nil {
				slog.Warn("series seed failed, skipping strategy", "symbol", sc.Symbol, "tf", string(sc.Timeframe), "err", err)
				continue
			}
			b = candles.NewBuilder(series)
			b.StaleAfter = cfg.StaleTickAfter
			eng.AddBuilder(b)
			slog.Info("series seeded", "symbol", sc.Symbol, "tf", string(sc.Timeframe), "candles", series.Len())
		}

		s, err := strategy.New(sc, b.Series(), mgr)
		if err != nil {
			slog.Warn("strategy init failed", "type", sc.Type, "symbol", sc.Symbol, "err", err)
			continue
		}
		if err := registry.Add(s); err != nil {
			slog.Warn("strategy registration failed", "name", s.Name(), "err", err)
			continue
		}
		watched[sc.Symbol] = asset
		slog.Info("strategy registered", "name", s.Name())
	}

	// Watchlist symbols without strategies still get priced and reported.
	watchlist, err := ws.Watchlist()
	if err != nil {
		slog.Error("watchlist load failed", "err", err)
		os.Exit(1)
	}
	for _, symbol := range watchlist {
		if _, ok := watched[symbol]; ok {
			continue
		}
		asset, ok := assets[symbol]
		if !ok {
			slog.Warn("watchlist references unknown symbol, skipping", "symbol", symbol)
			continue
		}
		watched[symbol] = asset
	}

	if len(watched) == 0 {
		slog.Error("nothing to watch: empty watchlist and no valid strategies")
		os.Exit(1)
	}
	health.SetStrategyCount(registry.Len())

	symbols := make([]string, 0, len(watched))
	for s := range watched {
		symbols = append(symbols, s)
	}
	slog.Info("watching", "symbols", strings.Join(symbols, ","), "strategies", registry.Len())

	// ---- Feed and engine ----
	feed := exchange.NewFeed(exchange.FeedConfig{
		APIKey:    cfg.CoinbaseAPIKey,
		APISecret: cfg.CoinbaseAPISecret,
		WSURL:     cfg.CoinbaseWSURL,
		Symbols:   symbols,
	})
	feed.OnReconnect = func() {
		prom.WSReconnects.Inc()
		health.SetWSConnected(true)
	}
	health.SetWSConnected(true)

	go feed.Run(ctx, eng.Events())
	go eng.Run(ctx)

	// ---- Reporting and API ----
	reporter := report.New(board, registry, logs, watched, cfg.ReportInterval)
	go reporter.Run(ctx)

	apiSrv := api.NewServer(cfg.APIAddr, api.Deps{
		Board:    board,
		Registry: registry,
		Engine:   eng,
		Logs:     logs,
		WS:       ws,
	})
	apiSrv.Start()

	slog.Info("pipeline ready")

	// ---- Wait for shutdown ----
	<-sigCh
	slog.Info("shutting down")
	cancel()
	mgr.Wait()

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	apiSrv.Stop(shCtx)
	metricsSrv.Stop(shCtx)
	if err := pub.Close(); err != nil {
		slog.Warn("redis close failed", "err", err)
	}
	slog.Info("bye")
}
