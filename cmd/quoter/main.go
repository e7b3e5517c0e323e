package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"openbook-quoter/book"
	"openbook-quoter/config"
	"openbook-quoter/dispatch"
	"openbook-quoter/infrastructure/logger"
	"openbook-quoter/inventory"
	"openbook-quoter/metrics"
	"openbook-quoter/participant"
	"openbook-quoter/pricing"
	"openbook-quoter/quoter"
	"openbook-quoter/sim"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	dryRun := flag.Bool("dryRun", true, "干跑模式：合成盘口与网关，不接真实场所")
	metricsAddr := flag.String("metricsAddr", "", "覆盖配置中的 metrics 监听地址")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	appLog, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer appLog.Close()

	if !*dryRun {
		// 真实场所的下单网关、盘口与余额接口由部署方注入，
		// 本二进制只内置合成实现
		appLog.Fatal("live mode requested but no venue gateway is configured")
	}

	met := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 全局调优面：文件热更,所有交易对共享,基础费率必须一致
	defaultRate, err := cfg.SharedDefaultPriorityRate()
	if err != nil {
		appLog.Fatal("tuning store init failed", zap.Error(err))
	}
	tuning := config.NewTuningStore(defaultRate)
	if cfg.TuningFile != "" {
		watcher, err := config.NewTuningWatcher(cfg.TuningFile, tuning, 0, func(err error) {
			appLog.Warn("tuning reload failed", zap.Error(err))
		})
		if err != nil {
			appLog.Fatal("create tuning watcher failed", zap.Error(err))
		}
		if err := watcher.Start(ctx); err != nil {
			appLog.Fatal("load tuning file failed", zap.Error(err))
		}
		defer watcher.Stop()
	}

	// 参考价：配置了行情源地址则走 websocket,按交易对各建一份缓存,
	// 否则由合成市场提供
	var priceCaches map[string]*pricing.Cache
	if cfg.Pricing.FeedURL != "" {
		priceCaches = make(map[string]*pricing.Cache, len(cfg.Instruments))
		for name := range cfg.Instruments {
			priceCaches[name] = pricing.NewCache(cfg.Pricing.StalenessBound())
		}
		priceFeed := pricing.NewFeed(cfg.Pricing.FeedURL, priceCaches, appLog)
		priceFeed.Start(ctx)
		defer priceFeed.Stop()
	}

	type instrumentRuntime struct {
		engine     *quoter.Engine
		poller     *book.Poller
		controller *inventory.Controller
		dispatcher *dispatch.Dispatcher
	}
	runtimes := make(map[string]*instrumentRuntime)

	for name, ic := range cfg.Instruments {
		ilog := appLog.WithInstrument(name)

		market := sim.NewMarket(sim.Config{
			Instrument:   name,
			SelfIdentity: ic.SelfIdentity,
			StartMid:     ic.Sim.StartMid,
			Confidence:   ic.Sim.Confidence,
			QuoteBalance: ic.Sim.QuoteBalance,
			BaseBalance:  ic.Sim.BaseBalance,
		}, appLog)

		tiers := participant.NewTierTable(ic.SelfIdentity, ic.Competitors, ic.Predators)

		poller := book.NewPoller(market, name, ic.Intervals.BookPoll(), appLog)
		if err := poller.Prime(ctx); err != nil {
			ilog.Fatal("initial book snapshot failed", zap.Error(err))
		}
		poller.Start(ctx)

		controller := inventory.NewController(ic.Inventory, ic.Quote.QuoteSize, market,
			ic.Intervals.InventoryPoll(), appLog)
		if err := controller.RefreshOnce(ctx); err != nil {
			ilog.Fatal("initial balance read failed", zap.Error(err))
		}
		controller.Start(ctx)

		dispatcher := dispatch.NewDispatcher(market, ic.Dispatch.Workers, ic.Dispatch.QueueSize, appLog)

		var prices quoter.PriceSource = market
		if c, ok := priceCaches[name]; ok {
			prices = c
		}

		engine, err := quoter.New(name, ic, quoter.Components{
			Books:     poller,
			Prices:    prices,
			Inventory: controller,
			Dispatch:  dispatcher,
			Tiers:     tiers,
			Tuning:    tuning,
			Logger:    appLog,
			Metrics:   met,
		})
		if err != nil {
			ilog.Fatal("create engine failed", zap.Error(err))
		}
		dispatcher.SetFailureHandler(func(_ string, side book.Side) {
			engine.OnSubmissionFailure(side)
		})
		dispatcher.Start(ctx)

		if err := engine.Start(ctx); err != nil {
			ilog.Fatal("start engine failed", zap.Error(err))
		}
		runtimes[name] = &instrumentRuntime{
			engine: engine, poller: poller, controller: controller, dispatcher: dispatcher,
		}
		ilog.Info("instrument started")
	}

	met.Serve(cfg.MetricsAddr, map[string]http.Handler{
		"/status": statusHandler(func() map[string]interface{} {
			out := make(map[string]interface{}, len(runtimes))
			for name, rt := range runtimes {
				out[name] = rt.engine.Status()
			}
			return out
		}),
	}, appLog)

	notifySystemd(ctx, appLog)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("shutdown signal received")
	cancel()

	for name, rt := range runtimes {
		rt.engine.Stop()
		rt.dispatcher.Stop()
		rt.poller.Stop()
		rt.controller.Stop()
		appLog.Info("instrument stopped", zap.String("instrument", name))
	}
}

func statusHandler(collect func() map[string]interface{}) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(collect()); err != nil {
			http.Error(w, fmt.Sprintf("encode status: %v", err), http.StatusInternalServerError)
		}
	})
}

// notifySystemd 上报就绪并按 WATCHDOG_USEC 的一半周期喂狗。
// 非 systemd 环境下 SdNotify 返回 false,静默跳过。
func notifySystemd(ctx context.Context, log *logger.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warn("systemd notify failed", zap.Error(err))
		return
	}
	if !sent {
		return
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}
