// Command pipelined runs the streaming knowledge/compute/rules pipeline:
// it watches a rules directory and a file-drop directory, folds dropped
// documents into the hot and warm compute paths, evaluates scheduled
// anomaly rules against the resulting knowledge state, dispatches
// notifications for every match, and serves the read-only audit/history
// API over HTTP and websocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/streamgraph/corepipeline/internal/api"
	"github.com/streamgraph/corepipeline/internal/audit"
	"github.com/streamgraph/corepipeline/internal/cluster"
	"github.com/streamgraph/corepipeline/internal/config"
	"github.com/streamgraph/corepipeline/internal/cooccur"
	"github.com/streamgraph/corepipeline/internal/document"
	"github.com/streamgraph/corepipeline/internal/features"
	"github.com/streamgraph/corepipeline/internal/graph"
	"github.com/streamgraph/corepipeline/internal/history"
	"github.com/streamgraph/corepipeline/internal/ingest"
	"github.com/streamgraph/corepipeline/internal/knowledge"
	"github.com/streamgraph/corepipeline/internal/notify"
	"github.com/streamgraph/corepipeline/internal/pipeline"
	"github.com/streamgraph/corepipeline/internal/ruleeval"
	"github.com/streamgraph/corepipeline/internal/rules"
	"github.com/streamgraph/corepipeline/internal/schedule"
	"github.com/streamgraph/corepipeline/pkg/logging"
	"github.com/streamgraph/corepipeline/pkg/telemetry"
)

// defaultClusterCount bounds the streaming K-means clusterer. Rule
// spike-detection against cluster_centroid is only meaningful once a
// cluster has accumulated members, so this is a starting point, not a
// tuned value.
const defaultClusterCount = 8

// Exit codes per the daemon's external contract: 0 normal, 1
// configuration error, 2 I/O failure, 130 on SIGINT.
const (
	exitOK        = 0
	exitConfig    = 1
	exitIO        = 2
	exitInterrupt = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the pipeline daemon's YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return exitConfig
	}

	log := logging.New("pipelined", cfg.Logging)

	channels, err := notify.BuildChannels(cfg.Channels)
	if err != nil {
		log.WithError(err).Error("notification channel configuration invalid")
		return exitConfig
	}
	dispatcher := notify.NewDispatcher(channels, log)

	loader := rules.NewLoader(cfg.RulesDir, log)
	if _, err := loader.Load(); err != nil {
		log.WithError(err).Error("rule directory scan failed")
		return exitIO
	}

	g := graph.New()
	acc := features.New(cfg.EntityKeyField)
	km := cluster.New(defaultClusterCount, features.Dim)
	co := cooccur.NewStore()
	state := knowledge.New()

	pcfg := pipeline.DefaultConfig()
	pcfg.EntityKeyField = cfg.EntityKeyField
	orchestrator := pipeline.New(pcfg, g, acc, km, co, state, log)

	auditLog := audit.New(0)
	hist := history.New(0)

	scheduler := schedule.New()
	for _, scheduleErr := range scheduler.SyncRules(anomalyRuleList(loader)) {
		log.WithError(scheduleErr.Err).WithField("rule_id", scheduleErr.RuleID).Warn("rule schedule rejected, rule stays unscheduled")
	}

	apiServer := api.NewServer(loader, scheduler, auditLog, hist, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var recent recentDocs
	watcher := ingest.NewWatcher(cfg.FileDropDir, func(batch []document.Document) {
		orchestrator.HotConnect(batch)
		recent.add(batch)
	}, log)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loader.Watch(ctx); err != nil {
			log.WithError(err).Warn("rule directory watch exited")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := watcher.Run(ctx); err != nil {
			log.WithError(err).Warn("file-drop watch exited")
		}
	}()

	wg.Add(1)
	go runWarmLoop(ctx, &wg, cfg.WarmDuration(), orchestrator, &recent, state, apiServer)

	evaluator := &ruleEvaluationLoop{
		loader:       loader,
		orchestrator: orchestrator,
		scheduler:    scheduler,
		dispatcher:   dispatcher,
		auditLog:     auditLog,
		history:      hist,
		api:          apiServer,
		log:          log,
	}
	driver := schedule.NewDriver(scheduler, cfg.TickDuration(), evaluator.onTick, log)
	driver.Start(ctx)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: apiServer}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithField("addr", cfg.ListenAddr).Info("serving control-plane API")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("control-plane API server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = driver.Stop(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)
	wg.Wait()

	return exitInterrupt
}

func anomalyRuleList(loader *rules.Loader) []*rules.AnomalyRule {
	rulesByID := loader.AnomalyRules()
	out := make([]*rules.AnomalyRule, 0, len(rulesByID))
	for _, r := range rulesByID {
		out = append(out, r)
	}
	return out
}

// recentDocs buffers documents folded into the hot path since the last
// warm-compute pass, which rebuilds co-occurrence, anomaly scores, trends
// and patterns over that batch.
type recentDocs struct {
	mu   sync.Mutex
	docs []document.Document
}

func (r *recentDocs) add(batch []document.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, batch...)
}

func (r *recentDocs) drain() []document.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.docs
	r.docs = nil
	return out
}

// runWarmLoop drains the hot-path buffer on a fixed interval, feeds it
// through the warm-compute pass, and pushes a knowledge-state delta to
// any connected /compute/stream clients.
func runWarmLoop(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, orchestrator *pipeline.Orchestrator, recent *recentDocs, state *knowledge.State, apiServer *api.Server) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastInsightCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch := recent.drain()
			if len(batch) == 0 {
				continue
			}

			orchestrator.WarmCompute(batch)

			snap := state.Snapshot()
			telemetry.InsightQueueLength.Set(float64(len(snap.Insights)))

			var newInsights []string
			if len(snap.Insights) > lastInsightCount {
				for _, insight := range snap.Insights[lastInsightCount:] {
					newInsights = append(newInsights, insight.Title)
				}
			}
			lastInsightCount = len(snap.Insights)

			trendKeys := make([]string, 0, len(snap.Trends))
			for key := range snap.Trends {
				trendKeys = append(trendKeys, key)
			}

			apiServer.PublishCompute(api.ComputeEvent{
				NewInsights: newInsights, Trends: trendKeys, Timestamp: time.Now().UTC(),
			})
		}
	}
}

// ruleEvaluationLoop is the schedule.Driver tick callback: it evaluates
// every due rule against the current knowledge snapshot, records audit
// and trigger history, dispatches notifications, and pushes a websocket
// event for each match.
type ruleEvaluationLoop struct {
	loader       *rules.Loader
	orchestrator *pipeline.Orchestrator
	scheduler    *schedule.Scheduler
	dispatcher   *notify.Dispatcher
	auditLog     *audit.Log
	history      *history.History
	api          *api.Server
	log          *logging.Logger
}

func (e *ruleEvaluationLoop) onTick(ctx context.Context, due []string) {
	for _, ruleID := range due {
		rule, ok := e.loader.AnomalyRules()[ruleID]
		if !ok {
			continue
		}
		e.evaluateRule(ctx, ruleID, rule)
		e.scheduler.RecordTrigger(ruleID)
	}
}

func (e *ruleEvaluationLoop) evaluateRule(ctx context.Context, ruleID string, rule *rules.AnomalyRule) {
	start := time.Now()
	snap := e.orchestrator.EvaluationSnapshot()

	matches, err := ruleeval.Evaluate(rule, snap)
	elapsed := time.Since(start)
	elapsedMS := float64(elapsed) / float64(time.Millisecond)
	telemetry.RuleEvaluationDuration.WithLabelValues(ruleID).Observe(elapsed.Seconds())

	if err != nil {
		telemetry.RuleEvaluations.WithLabelValues(ruleID, "error").Inc()
		e.auditLog.Append(ruleID, audit.Entry{
			Time: start, Level: audit.Error, Phase: "Evaluation",
			Message: err.Error(),
		})
		return
	}
	telemetry.RuleEvaluations.WithLabelValues(ruleID, "ok").Inc()

	e.auditLog.Append(ruleID, audit.Entry{
		Time: start, Level: audit.Info, Phase: "Evaluation",
		Message: fmt.Sprintf("%d entities matched", len(matches)),
		Fields:  map[string]any{"matches": len(matches)},
	})

	if len(matches) == 0 {
		return
	}

	historyMatches := make([]history.Match, 0, len(matches))
	entityKeys := make([]string, 0, len(matches))
	for _, m := range matches {
		data := snap.Entities[m.EntityKey]
		historyMatches = append(historyMatches, history.Match{EntityKey: m.EntityKey, Score: data.CompositeScore})
		entityKeys = append(entityKeys, m.EntityKey)
	}
	e.history.Record(ruleID, history.Trigger{
		Timestamp: start, MatchesFound: len(matches), EvaluationMS: elapsedMS, Matches: historyMatches,
	})

	e.api.PublishTrigger(api.TriggerEvent{
		RuleID: ruleID, RuleName: rule.Metadata.Name, EntityKeys: entityKeys,
		MatchesFound: len(matches), Timestamp: start,
	})

	for _, m := range matches {
		e.notify(ctx, ruleID, rule, m, snap)
	}
}

func (e *ruleEvaluationLoop) notify(ctx context.Context, ruleID string, rule *rules.AnomalyRule, match ruleeval.RuleMatch, snap ruleeval.Snapshot) {
	data := snap.Entities[match.EntityKey]
	signals := snap.SignalScores[match.EntityKey]
	signalList := make([]notify.SignalValue, 0, len(signals))
	for name, value := range signals {
		signalList = append(signalList, notify.SignalValue{Signal: name, Value: value})
	}

	tctx := notify.Context{
		Rule: notify.RuleContext{
			ID: ruleID, Name: rule.Metadata.Name, Description: rule.Metadata.Description, Tags: rule.Metadata.Tags,
		},
		Anomaly: notify.AnomalyContext{
			Key: match.EntityKey, EntityType: "Member", Score: data.CompositeScore,
			ClusterID: data.ClusterIdx, HasCluster: data.HasCluster,
			Signals: signalList, Features: ruleeval.FeatureMap(data.Features),
		},
		Event:     notify.EventTrigger,
		Timestamp: time.Now().UTC(),
	}

	for _, dispatchErr := range e.dispatcher.Dispatch(ctx, rule.Spec.Channels, notify.EventTrigger, tctx) {
		e.auditLog.Append(ruleID, audit.Entry{
			Time: time.Now(), Level: audit.Error, Phase: "NotifyError",
			Message: dispatchErr.Error(), Fields: map[string]any{"entity": match.EntityKey},
		})
	}
}
