// Package harvester sequences the cookie harvest: one isolated
// browser session per credential, results accumulated in input order
// and written once at the end of the run.
package harvester

import (
	"context"
	"time"

	"xharvest/pkg/browser"
	"xharvest/pkg/config"
	"xharvest/pkg/credentials"
	"xharvest/pkg/errors"
	"xharvest/pkg/logger"
	"xharvest/pkg/output"
	"xharvest/pkg/ratelimit"
	"xharvest/pkg/session"
)

// Failure records one account that did not produce a session
type Failure struct {
	Username string
	Kind     errors.ErrorType
	Err      error
}

// Report is the outcome of one run
type Report struct {
	Sessions    []*browser.Session
	Failures    []Failure
	ParseErrors []credentials.ParseError
	// Skipped lists accounts never attempted because a fatal error
	// aborted the batch
	Skipped []string
	Fatal   error
}

// Attempted returns how many accounts were actually processed
func (r *Report) Attempted() int {
	return len(r.Sessions) + len(r.Failures)
}

// ExitCode maps the report to a process exit status. Partial success
// counts as success; only a fatal error or a batch where every
// attempted account failed is reported as failure. A run that
// attempted nothing (empty input) succeeds.
func (r *Report) ExitCode() int {
	if r.Fatal != nil {
		return 1
	}
	if r.Attempted() > 0 && len(r.Sessions) == 0 {
		return 1
	}
	return 0
}

// Harvester orchestrates the per-account extraction
type Harvester struct {
	engine  Engine
	limiter ratelimit.Limiter
	store   session.Store
	config  *config.Config
	logger  logger.Logger
}

// New creates a Harvester backed by the Chrome engine
func New(cfg *config.Config) *Harvester {
	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if cfg.Harvest.AccountsPerMinute > 0 {
		limiter = ratelimit.NewTokenBucket(cfg.Harvest.AccountsPerMinute, time.Minute)
	}

	return &Harvester{
		engine:  browser.NewChromeEngine(cfg),
		limiter: limiter,
		config:  cfg,
		logger:  logger.GetLogger(),
	}
}

// SetStore configures an optional session store that receives every
// harvested session in addition to the output file
func (h *Harvester) SetStore(store session.Store) {
	h.store = store
}

// Run processes the credentials in order and writes the output file.
// Per-account failures are recorded and never abort the batch; a
// browser launch failure does, since no later account could succeed.
// Accumulated results are written even after an abort so finished
// work is not lost; a run cancelled before anything was attempted
// leaves any previous output file in place.
func (h *Harvester) Run(ctx context.Context, creds []credentials.Credential, parseErrs []credentials.ParseError) *Report {
	report := &Report{ParseErrors: parseErrs}

	for _, pe := range parseErrs {
		h.logger.WithFields(map[string]interface{}{
			"line": pe.LineNumber,
			"text": pe.Text,
		}).Warn("skipping malformed credential line")
	}

	for i, cred := range creds {
		if report.Fatal != nil || ctx.Err() != nil {
			report.Skipped = append(report.Skipped, cred.Username)
			continue
		}

		h.limiter.Wait()

		log := h.logger.WithField("username", cred.Username)
		log.Info("extracting session")

		sess, err := h.engine.ExtractSession(ctx, cred)
		if err != nil {
			kind := errors.GetType(err)
			if errors.IsFatal(kind) {
				log.WithError(err).Error("aborting batch")
				report.Fatal = err
				report.Failures = append(report.Failures, Failure{
					Username: cred.Username,
					Kind:     kind,
					Err:      err,
				})
				continue
			}

			log.WithError(err).WithField("kind", string(kind)).Warn("extraction failed")
			report.Failures = append(report.Failures, Failure{
				Username: cred.Username,
				Kind:     kind,
				Err:      err,
			})
			continue
		}

		log.WithField("account", i+1).Info("session harvested")
		report.Sessions = append(report.Sessions, sess)

		if h.store != nil {
			if err := h.store.Save(sess); err != nil {
				log.WithError(err).Warn("failed to save session to store")
			}
		}
	}

	if ctx.Err() != nil && report.Attempted() == 0 {
		// Cancelled before any account ran: an earlier output file may
		// hold real results, so don't clobber it with an empty batch.
		h.logger.WithError(ctx.Err()).Warn("run cancelled before any account was attempted, keeping prior output")
		report.Fatal = errors.Wrap(errors.ErrorTypeUnknown, "run cancelled", ctx.Err())
		return report
	}

	if err := output.Write(h.config.Output.Path, report.Sessions); err != nil {
		h.logger.WithError(err).Error("failed to write output file")
		if report.Fatal == nil {
			report.Fatal = err
		}
		return report
	}

	h.logger.WithFields(map[string]interface{}{
		"path":      h.config.Output.Path,
		"harvested": len(report.Sessions),
		"failed":    len(report.Failures),
	}).Info("run complete")

	return report
}
