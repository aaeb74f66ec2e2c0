// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

// Package orchestrator executes one search run as a nine-phase pipeline:
//
//	1 keyword_search      archive fan-out per keyword
//	2 blacklist_filter    drop blacklisted pages
//	3 page_aggregation    group ads into pages, apply min-ads filter
//	4 website_analysis    scrape advertiser websites (bounded pool)
//	5 classification      thematic classification (optional collaborator)
//	6 scoring             winning-ad detection
//	7 persistence         repository writes in lineage-safe order
//	8 finalize            run log and terminal status
//	9 notify              best-effort lifecycle event
//
// Each phase runs under its own timeout; cancellation is honored at phase
// boundaries. A run always ends with exactly nine phase records, the
// unexecuted ones marked skipped.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/adscout/internal/archive"
	"github.com/tomtom215/adscout/internal/classifier"
	"github.com/tomtom215/adscout/internal/config"
	"github.com/tomtom215/adscout/internal/database"
	"github.com/tomtom215/adscout/internal/logging"
	"github.com/tomtom215/adscout/internal/metrics"
	"github.com/tomtom215/adscout/internal/models"
	"github.com/tomtom215/adscout/internal/notify"
	"github.com/tomtom215/adscout/internal/rotator"
	"github.com/tomtom215/adscout/internal/scoring"
)

// errSkipPhase marks a phase that did not apply to this run. It is not a
// failure; the phase record gets outcome "skipped".
var errSkipPhase = errors.New("phase not applicable")

// Phase outcomes recorded in run logs.
const (
	outcomeOK      = "ok"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

const totalPhases = 9

// defaultMinAdsDetail is the page ad-count floor above which individual
// ads are persisted, overridable per tenant via settings.
const defaultMinAdsDetail = 3

// Orchestrator drives search runs end to end. It owns no goroutines
// between runs; the queue supervisor calls Run once per claimed run.
type Orchestrator struct {
	db         *database.DB
	cfg        *config.Config
	rotator    *rotator.Rotator
	client     archive.Client
	analyzer   analyzer
	classifier classifier.Classifier
	notifier   notify.Notifier

	now func() time.Time
}

// analyzer is the website-analysis surface the pipeline needs. Declared
// locally so tests can stub it without the HTTP implementation.
type analyzer interface {
	Analyze(ctx context.Context, rawURL, countryHint string) *models.WebsiteAnalysis
}

// New wires an orchestrator from its collaborators.
func New(db *database.DB, cfg *config.Config, rot *rotator.Rotator, client archive.Client,
	an analyzer, cl classifier.Classifier, nt notify.Notifier) *Orchestrator {
	if cl == nil {
		cl = classifier.Disabled{}
	}
	if nt == nil {
		nt = notify.Noop{}
	}
	return &Orchestrator{
		db:         db,
		cfg:        cfg,
		rotator:    rot,
		client:     client,
		analyzer:   an,
		classifier: cl,
		notifier:   nt,
		now:        time.Now,
	}
}

type phase struct {
	number int
	name   string
	fn     func(ctx context.Context, st *runState) (map[string]int64, error)
}

// Run executes one claimed run. The caller has already transitioned the
// run to running; Run moves it to its terminal state. The returned error
// is informational — the terminal status is already persisted.
func (o *Orchestrator) Run(ctx context.Context, run *models.SearchRun) error {
	logger := logging.WithComponent("orchestrator").With().
		Int64("run_id", run.ID).Str("tenant", run.Tenant).Logger()
	ctx = logging.ContextWithRunID(ctx, run.ID)

	st := newRunState(run, o.now())
	if err := o.loadSettings(ctx, st); err != nil {
		logger.Warn().Err(err).Msg("failed to load tenant settings, using defaults")
	}

	stopHeartbeat := o.startHeartbeat(ctx, run.ID)
	defer stopHeartbeat()

	phases := []phase{
		{1, "keyword_search", o.phaseKeywordSearch},
		{2, "blacklist_filter", o.phaseBlacklistFilter},
		{3, "page_aggregation", o.phasePageAggregation},
		{4, "website_analysis", o.phaseWebsiteAnalysis},
		{5, "classification", o.phaseClassification},
		{6, "scoring", o.phaseScoring},
		{7, "persistence", o.phasePersistence},
	}

	var runErr error
	for _, p := range phases {
		cancelled, err := o.cancelled(ctx, run.ID)
		if err != nil {
			runErr = err
		}
		if cancelled {
			logger.Info().Int("phase", p.number).Msg("run cancelled, stopping pipeline")
			return nil
		}

		if runErr != nil || st.skipOnNoResults(p.number) {
			st.recordPhase(p.number, p.name, o.now(), 0, outcomeSkipped, nil)
			continue
		}

		o.announcePhase(ctx, st, p)
		stats, err := o.execPhase(ctx, st, p)
		if err != nil {
			logger.Error().Err(err).Int("phase", p.number).Str("name", p.name).
				Msg("phase failed")
			runErr = fmt.Errorf("phase %d (%s): %w", p.number, p.name, err)
			continue
		}
		logger.Debug().Int("phase", p.number).Str("name", p.name).
			Interface("stats", stats).Msg("phase done")
	}

	o.finish(ctx, st, runErr)
	return runErr
}

// execPhase runs one phase under the configured timeout and records its
// phase record, including the skipped outcome for non-applicable phases.
func (o *Orchestrator) execPhase(ctx context.Context, st *runState, p phase) (map[string]int64, error) {
	phaseCtx, cancel := context.WithTimeout(ctx, o.cfg.Queue.PhaseTimeout)
	defer cancel()

	start := o.now()
	stats, err := p.fn(phaseCtx, st)
	elapsed := o.now().Sub(start)

	outcome := outcomeOK
	switch {
	case errors.Is(err, errSkipPhase):
		outcome = outcomeSkipped
		err = nil
	case err != nil:
		outcome = outcomeFailed
	}
	st.recordPhase(p.number, p.name, start, elapsed, outcome, stats)
	metrics.RecordPhase(p.name, outcome, elapsed)
	return stats, err
}

func (o *Orchestrator) announcePhase(ctx context.Context, st *runState, p phase) {
	percent := (p.number - 1) * 100 / totalPhases
	message := fmt.Sprintf("phase %d/%d: %s", p.number, totalPhases, p.name)
	if err := o.db.SetRunProgress(ctx, st.run.ID, p.number, p.name, percent, message); err != nil {
		logging.Warn().Err(err).Int64("run_id", st.run.ID).Msg("failed to write run progress")
	}
}

// finish covers phases 8 and 9: commit the terminal status, publish the
// lifecycle event, then write the run log last so it carries all nine
// phase records including the notify outcome.
func (o *Orchestrator) finish(ctx context.Context, st *runState, runErr error) {
	start := o.now()

	final := models.RunCompleted
	errMsg := ""
	switch {
	case runErr != nil:
		final = models.RunFailed
		errMsg = runErr.Error()
	case st.noResults:
		final = models.RunNoResults
	}
	st.finalStatus = final

	outcome := outcomeOK
	if err := o.db.UpdateRunStatus(ctx, st.run.ID, final, errMsg); err != nil {
		// A concurrent cancel is the only legal way the transition can
		// lose; anything else is logged and left to stale-run recovery.
		logging.Error().Err(err).Int64("run_id", st.run.ID).
			Str("status", string(final)).Msg("failed to set terminal status")
		outcome = outcomeFailed
	} else if err := o.db.SetRunProgress(ctx, st.run.ID, totalPhases, "finalize", 100,
		fmt.Sprintf("run %s", final)); err != nil {
		logging.Warn().Err(err).Int64("run_id", st.run.ID).Msg("failed to write final progress")
	}

	elapsed := o.now().Sub(start)
	st.recordPhase(8, "finalize", start, elapsed, outcome,
		map[string]int64{"winning_ads": int64(st.counts.WinningAds)})
	metrics.RecordPhase("finalize", outcome, elapsed)
	metrics.RecordRunFinished(string(final), o.now().Sub(st.startedAt))

	o.notifyFinished(ctx, st)

	rl := st.buildRunLog(final, o.now())
	if err := o.db.InsertRunLog(ctx, rl); err != nil {
		logging.Error().Err(err).Int64("run_id", st.run.ID).Msg("failed to write run log")
		return
	}
	if err := o.db.AttachRunLog(ctx, st.run.ID, rl.ID); err != nil {
		logging.Error().Err(err).Int64("run_id", st.run.ID).Msg("failed to attach run log")
	}
}

// notifyFinished is phase 9. Failures are logged and discarded; the run's
// terminal status is already committed.
func (o *Orchestrator) notifyFinished(ctx context.Context, st *runState) {
	start := o.now()
	event := notify.RunEvent{
		RunID:       st.run.ID,
		Tenant:      st.run.Tenant,
		FinalStatus: st.finalStatus,
		PagesFound:  st.counts.PagesAfterFilter,
		WinningAds:  st.counts.WinningAds,
		EndedAt:     o.now().UTC(),
	}
	outcome := outcomeOK
	if err := o.notifier.PublishRunFinished(ctx, event); err != nil {
		logging.Warn().Err(err).Int64("run_id", st.run.ID).Msg("run event publish failed")
		outcome = outcomeFailed
	}
	elapsed := o.now().Sub(start)
	st.recordPhase(9, "notify", start, elapsed, outcome, nil)
	metrics.RecordPhase("notify", outcome, elapsed)
}

// cancelled reports whether the run was cancelled out from under us.
func (o *Orchestrator) cancelled(ctx context.Context, runID int64) (bool, error) {
	status, err := o.db.GetRunStatus(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("failed to check cancellation: %w", err)
	}
	return status == models.RunCancelled, nil
}

// startHeartbeat stamps the run's heartbeat on an interval until the
// returned stop func is called or ctx ends.
func (o *Orchestrator) startHeartbeat(ctx context.Context, runID int64) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(o.cfg.Queue.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := o.db.Heartbeat(hbCtx, runID); err != nil && hbCtx.Err() == nil {
					logging.Warn().Err(err).Int64("run_id", runID).Msg("heartbeat write failed")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// loadSettings resolves the tenant-scoped tunables a run depends on.
func (o *Orchestrator) loadSettings(ctx context.Context, st *runState) error {
	raw, err := o.db.GetSetting(ctx, st.run.Tenant, database.SettingSizeThresholds, "")
	if err != nil {
		return err
	}
	if raw != "" {
		var t scoring.Thresholds
		if jerr := json.Unmarshal([]byte(raw), &t); jerr != nil {
			logging.Warn().Err(jerr).Str("tenant", st.run.Tenant).
				Msg("malformed size_bucket_thresholds setting, using defaults")
		} else {
			st.thresholds = t
		}
	}

	raw, err = o.db.GetSetting(ctx, st.run.Tenant, database.SettingMinAdsDetail, "")
	if err != nil {
		return err
	}
	if raw != "" {
		var n int
		if _, serr := fmt.Sscanf(raw, "%d", &n); serr != nil || n < 0 {
			logging.Warn().Str("tenant", st.run.Tenant).Str("value", raw).
				Msg("malformed min_ads_detail setting, using default")
		} else {
			st.minAdsDetail = n
		}
	}
	return nil
}
