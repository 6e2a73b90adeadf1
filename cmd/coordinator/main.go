// Command coordinator is kubedoor-master: the central control plane that
// accepts agent sessions, answers admission lookups, runs the peak-harvest
// scheduler, and ingests/alerts on k8s events. Grounded on
// original_source/src/kubedoor-master/kubedoor-master.py's main()/
// start_background_tasks, restructured into the teacher's flag+env options
// pattern (aws-karpenter-provider-aws/cmd/controller/main.go).
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nikarhub/kubedoor/pkg/admission"
	"github.com/nikarhub/kubedoor/pkg/alertcache"
	"github.com/nikarhub/kubedoor/pkg/config"
	"github.com/nikarhub/kubedoor/pkg/events"
	"github.com/nikarhub/kubedoor/pkg/harvest"
	"github.com/nikarhub/kubedoor/pkg/logging"
	"github.com/nikarhub/kubedoor/pkg/notifier"
	"github.com/nikarhub/kubedoor/pkg/promsource"
	"github.com/nikarhub/kubedoor/pkg/restapi"
	"github.com/nikarhub/kubedoor/pkg/session"
	"github.com/nikarhub/kubedoor/pkg/store"
)

func main() {
	opts := config.LoadCoordinatorOptions()
	if err := config.Validate(opts); err != nil {
		panic(err.Error())
	}

	log := logging.New("coordinator", false, "info")
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.Into(ctx, log)

	st, err := store.Open(store.Options{
		Host: opts.DBHost, Port: opts.DBPort, Database: opts.DBName,
		User: opts.DBUser, Password: opts.DBPassword,
	})
	if err != nil {
		log.Fatal("failed to open clickhouse store", zap.Error(err))
	}
	defer st.Close()

	prom, err := promsource.New(opts.PromURL)
	if err != nil {
		log.Fatal("failed to build prometheus client", zap.Error(err))
	}

	registry := session.NewRegistry(log)
	go registry.HeartbeatCheck(ctx, 3*time.Second, opts.HeartbeatTimeout, func(env string) {
		sess, ok := registry.Get(env)
		if !ok {
			return
		}
		if err := st.SetAgentOnline(ctx, env, sess.Version, false); err != nil {
			log.Error("failed to mark agent offline after heartbeat timeout", zap.String("env", env), zap.Error(err))
		}
	})

	matcher, err := events.NewMatcher(opts.AlertRulesPath, log)
	if err != nil {
		log.Fatal("failed to load alert rules", zap.Error(err))
	}
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	if err := matcher.Watch(stopWatch); err != nil {
		log.Warn("failed to start alert rule file watch", zap.Error(err))
	}

	n := notifier.Multi{Transports: []notifier.Notifier{
		notifier.Wecom{WebhookURL: opts.WecomWebhook},
		notifier.Dingding{WebhookURL: opts.DingdingWebhook},
		notifier.Feishu{WebhookURL: opts.FeishuWebhook},
		notifier.Slack{WebhookURL: opts.SlackWebhook},
	}}
	dedup := alertcache.New(opts.AlertDedupTTL)
	processor := events.NewProcessor(matcher, dedup, n, st, log)

	harvester := harvest.New(prom, st, log, opts.PeakHourStart, opts.PeakHourEnd, opts.HarvestBatchCap)
	go runHarvestSchedule(ctx, harvester, st, opts.HarvestDays, log)

	resolver := admission.NewResolver(st)

	router := restapi.NewCoordinatorRouter(restapi.CoordinatorDeps{
		Registry:          registry,
		Store:             st,
		Processor:         processor,
		Resolver:          resolver,
		Prom:              prom,
		Harvester:         harvester,
		Log:               log,
		RequestTimeout:    opts.RequestTimeout,
		UpdateImageConfig: opts.UpdateImageConfig,
	})

	srv := &http.Server{Addr: opts.ListenAddr, Handler: router}
	go func() {
		log.Info("coordinator listening", zap.String("addr", opts.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// runHarvestSchedule runs the harvest once a day per env with collect=1,
// covering the last `days` days over each env's own agent_status.peak_hours
// window, matching cron_peak_data's daily sweep (ck_agent_collect_info at
// utils.py:324-327 selects exactly this collect/peak_hours pair).
func runHarvestSchedule(ctx context.Context, h *harvest.Harvester, st *store.Store, days int, log *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	runOnce := func() {
		envs, err := st.ListCollectEnvs(ctx)
		if err != nil {
			log.Error("failed to list collect-enabled envs for harvest", zap.Error(err))
			return
		}
		now := time.Now()
		for _, a := range envs {
			start, end, ok := harvest.SplitPeakHours(a.PeakHours)
			if !ok {
				log.Warn("env has collect=1 but no usable peak_hours, skipping", zap.String("env", a.Env), zap.String("peak_hours", a.PeakHours))
				continue
			}
			for d := 0; d < days; d++ {
				day := now.AddDate(0, 0, -d)
				if err := h.RunForDayWindow(ctx, a.Env, day, start, end); err != nil {
					log.Error("harvest run failed", zap.String("env", a.Env), zap.Time("day", day), zap.Error(err))
				}
			}
		}
	}
	runOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
