package collection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thomasteisberg/xopr/internal/logctx"
	"github.com/thomasteisberg/xopr/pkg/discovery"
	"github.com/thomasteisberg/xopr/pkg/logging"
	"golang.org/x/sync/errgroup"
)

// Report collects the per-campaign outcomes of a run.
type Report struct {
	// Statuses are in the order the campaigns were given.
	Statuses []*Status     `json:"campaigns"`
	Duration time.Duration `json:"duration_ns"`
}

// Failed returns the campaigns that were not published.
func (r *Report) Failed() []*Status {
	var out []*Status
	for _, s := range r.Statuses {
		if !s.OK() {
			out = append(out, s)
		}
	}
	return out
}

// Items returns the number of items published across campaigns.
func (r *Report) Items() int {
	var n int
	for _, s := range r.Statuses {
		if s.OK() {
			n += s.Items
		}
	}
	return n
}

// Err returns nil when every campaign was published, otherwise an error
// wrapping ErrCampaignBuildFailed that names the failed campaigns.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	ids := make([]string, len(failed))
	errs := make([]error, len(failed))
	for i, s := range failed {
		ids[i] = s.Campaign
		errs[i] = s.Err
	}
	return fmt.Errorf("%d of %d campaigns failed (%s): %w",
		len(failed), len(r.Statuses), strings.Join(ids, ", "), errors.Join(errs...))
}

// Run builds campaigns on a pool of NWorkers. A failed campaign is recorded
// in the report and never cancels the others; cancelling ctx stops them
// all.
func (b *Builder) Run(ctx context.Context, campaigns []discovery.Campaign) *Report {
	start := time.Now()
	log := logctx.FromContext(ctx).With().Str("phase", "build").Logger()
	pt := logging.NewProgressTracker("build", int64(len(campaigns)), log)

	report := &Report{Statuses: make([]*Status, len(campaigns))}

	var g errgroup.Group
	g.SetLimit(b.opts.NWorkers)
	for i, c := range campaigns {
		g.Go(func() error {
			completed, failed, _ := pt.Progress()
			logging.CampaignStarted(log, "build", c.ID, completed+failed, pt.Total())

			s, err := b.Build(ctx, c)
			report.Statuses[i] = s
			clog := log.With().Str(logctx.FieldCampaign, c.ID).Logger()
			if err != nil {
				pt.RecordFailure(s.Duration)
				clog.Error().Err(err).Int("skipped", s.Skipped).Msg("campaign failed")
				return nil
			}
			pt.RecordCompletion(s.Duration)
			logging.CampaignComplete(clog, "build", s.Duration).
				Count("items", int64(s.Items)).
				Int("skipped", s.Skipped).
				Int("cached", s.Cached).
				Int("segments", s.Segments).
				Bytes("bytes", s.Bytes).
				Rate("items", int64(s.Items)).
				ProgressFromTracker(pt).
				Log("campaign published")
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	logging.PhaseComplete(log, "build", report.Duration).
		Int("campaigns", len(campaigns)).
		Int("failed", len(report.Failed())).
		Count("items", int64(report.Items())).
		Log("build finished")
	return report
}
