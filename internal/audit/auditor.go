package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/storeaudit/storeaudit/internal/config"
)

// EstimateRow is one listing row enriched with an API size estimate.
type EstimateRow struct {
	ResourceCount
	Measurement *SizeMeasurement `json:"measurement,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// ExactResult is the outcome of measuring one named resource kind.
type ExactResult struct {
	Alias        string           `json:"alias"`
	Kind         string           `json:"kind"`
	Resolved     bool             `json:"resolved"`
	Prefix       string           `json:"prefix,omitempty"`
	PhysicalKeys int64            `json:"physical_keys"`
	Measurement  *SizeMeasurement `json:"measurement,omitempty"`
}

// Report is everything one audit run produced. Only the sections belonging
// to the selected mode are filled.
type Report struct {
	RunID        string          `json:"run_id"`
	Mode         config.Mode     `json:"mode"`
	GeneratedAt  time.Time       `json:"generated_at"`
	TotalKinds   int             `json:"total_kinds"`
	TotalObjects int64           `json:"total_objects"`
	Counts       []ResourceCount `json:"counts,omitempty"`
	Members      []Member        `json:"members,omitempty"`
	Endpoints    []Fragmentation `json:"endpoints,omitempty"`
	Estimates    []EstimateRow   `json:"estimates,omitempty"`
	Exact        *ExactResult    `json:"exact,omitempty"`
	Forensic     []ForensicRow   `json:"forensic,omitempty"`
	Scan         *ScanSummary    `json:"scan,omitempty"`
}

// Auditor dispatches one audit workflow per run.
type Auditor struct {
	Config   *config.Config
	Metrics  MetricsSource
	API      ControlPlane
	Storage  Storage
	Prompter Prompter
	Sleeper  Sleeper
	Recorder Recorder
	RunID    string

	// OnForensicRow, when set, receives every forensic row as soon as it
	// is produced so long scans can be followed live.
	OnForensicRow func(ForensicRow)
}

// Run executes the workflow selected by opts. On a forensic scan that ends
// early the partial report is returned together with the error.
func (a *Auditor) Run(ctx context.Context, opts config.Options) (*Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	rep := &Report{RunID: a.RunID, Mode: opts.Mode, GeneratedAt: time.Now().UTC()}
	log.Info().Str("mode", string(opts.Mode)).Str("run_id", a.RunID).Msg("starting audit")

	var err error
	switch opts.Mode {
	case config.ModeSummary:
		_, err = a.summary(ctx, opts, rep)
	case config.ModeEstimate:
		err = a.estimate(ctx, opts, rep)
	case config.ModeExact:
		err = a.exact(ctx, opts, rep)
	case config.ModeForensic:
		err = a.forensic(ctx, rep)
	}
	if err != nil {
		if rep.Scan != nil {
			return rep, err
		}
		return nil, err
	}
	return rep, nil
}

func (a *Auditor) counts(ctx context.Context, rep *Report) ([]ResourceCount, error) {
	rc, err := a.Metrics.RawMetrics(ctx)
	if err != nil {
		return nil, systemErr(SystemMetrics, "fetch metrics", err)
	}
	defer func() { _ = rc.Close() }()

	counts, err := AggregateCounts(rc, a.Config.Metrics.Family)
	if err != nil {
		return nil, systemErr(SystemMetrics, "read metrics", err)
	}
	if len(counts) == 0 {
		log.Warn().Str("family", a.Config.Metrics.Family).Msg("no resource samples found in metrics")
	}

	rep.TotalKinds = len(counts)
	rep.TotalObjects = TotalObjects(counts)
	a.recorder().RecordCounts(counts)
	return counts, nil
}

func (a *Auditor) summary(ctx context.Context, opts config.Options, rep *Report) ([]ResourceCount, error) {
	counts, err := a.counts(ctx, rep)
	if err != nil {
		return nil, err
	}

	members, err := a.API.Members(ctx)
	if err != nil {
		return nil, systemErr(SystemAPI, "list storage members", err)
	}
	rep.Members = members

	raw, err := a.Storage.EndpointStatus(ctx)
	if err != nil {
		return nil, systemErr(SystemStorage, "endpoint status", err)
	}
	statuses, err := ParseEndpointStatus(raw)
	if err != nil {
		return nil, systemErr(SystemStorage, "endpoint status", err)
	}
	rep.Endpoints = AnalyzeFragmentation(statuses, FragmentationPolicy{
		HighPercent:   a.Config.Thresholds.HighFragmentationPercent,
		CriticalBytes: a.Config.Thresholds.CriticalDBSize.Bytes(),
	})
	a.recorder().RecordEndpoints(rep.Endpoints)

	rep.Counts = a.displayed(counts, opts)
	return rep.Counts, nil
}

func (a *Auditor) estimate(ctx context.Context, opts config.Options, rep *Report) error {
	rows, err := a.summary(ctx, opts, rep)
	if err != nil {
		return err
	}

	if opts.ShowAll && !opts.SkipConfirm {
		err := a.Prompter.Confirm(Gate{
			Message: fmt.Sprintf("Estimating every resource kind lists all %d objects (%d kinds) through the API as JSON.",
				rep.TotalObjects, rep.TotalKinds),
			Token: a.Config.ConfirmToken,
		})
		if err != nil {
			return err
		}
	}

	measurer := EstimatedByAPI{API: a.API}
	rep.Estimates = make([]EstimateRow, 0, len(rows))
	for _, rc := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := EstimateRow{ResourceCount: rc}

		start := time.Now()
		m, err := measurer.Measure(ctx, Target{Kind: rc.Kind, Count: rc.Count})
		if err != nil {
			if perr := a.probeAPI(ctx); perr != nil {
				log.Error().Err(perr).Str("resource", rc.Kind).Msg("control-plane API unreachable after failed estimate")
				return err
			}
			log.Warn().Err(err).Str("resource", rc.Kind).Msg("size estimate failed")
			row.Error = err.Error()
		} else {
			a.recorder().RecordMeasurement(rc.Kind, m, time.Since(start))
			row.Measurement = &m
		}
		rep.Estimates = append(rep.Estimates, row)
	}
	return nil
}

func (a *Auditor) exact(ctx context.Context, opts config.Options, rep *Report) error {
	kind, err := a.API.ResolveKind(ctx, opts.Resource)
	if err != nil {
		if errors.Is(err, ErrUnknownResource) {
			return err
		}
		return systemErr(SystemAPI, "resolve resource "+opts.Resource, err)
	}
	res := &ExactResult{Alias: opts.Resource, Kind: kind}
	rep.Exact = res

	idx, err := Snapshot(ctx, a.Storage)
	if err != nil {
		return err
	}

	prefix, err := idx.InferPrefix(kind)
	if err != nil {
		log.Warn().Str("resource", kind).Int("index_keys", idx.Len()).Msg("no key prefix found")
		return nil
	}
	res.Resolved = true
	res.Prefix = prefix.Prefix
	res.PhysicalKeys = idx.CountUnder(prefix.Prefix)

	if !opts.SkipConfirm {
		err := a.Prompter.Confirm(Gate{
			Message: fmt.Sprintf("Exact measurement reads %d keys, values included, under %s from the live store.",
				res.PhysicalKeys, res.Prefix),
			Token: a.Config.ConfirmToken,
		})
		if err != nil {
			return err
		}
	}

	start := time.Now()
	m, err := ExactByPrefix{Storage: a.Storage}.Measure(ctx, Target{Kind: kind, Prefix: res.Prefix, Count: res.PhysicalKeys})
	if err != nil {
		return err
	}
	a.recorder().RecordMeasurement(kind, m, time.Since(start))
	res.Measurement = &m
	return nil
}

func (a *Auditor) forensic(ctx context.Context, rep *Report) error {
	scanner := &ForensicScanner{
		Storage:        a.Storage,
		Prompter:       a.Prompter,
		Sleeper:        a.Sleeper,
		Recorder:       a.recorder(),
		Token:          a.Config.Forensic.Token,
		Throttle:       a.Config.ThrottleDuration(),
		MeasureTimeout: a.Config.MeasureTimeoutDuration(),
	}

	if err := scanner.Confirm(); err != nil {
		return err
	}
	counts, err := a.counts(ctx, rep)
	if err != nil {
		return err
	}

	rep.Forensic = make([]ForensicRow, 0, len(counts))
	sum, err := scanner.snapshotAndScan(ctx, counts, func(row ForensicRow) error {
		rep.Forensic = append(rep.Forensic, row)
		if a.OnForensicRow != nil {
			a.OnForensicRow(row)
		}
		return nil
	})
	rep.Scan = &sum
	if err != nil {
		log.Error().Err(err).Int("completed", sum.Completed).Int("total", sum.Total).Msg("forensic scan ended early")
		return err
	}
	log.Info().Int("measured", sum.Measured).Int("unresolved", sum.Unresolved).Int("failed", sum.Failed).Msg("forensic scan complete")
	return nil
}

// probeAPI tells a single failed listing apart from a lost control plane.
func (a *Auditor) probeAPI(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultProbeTimeout)
	defer cancel()
	return a.API.Reachable(pctx)
}

func (a *Auditor) displayed(counts []ResourceCount, opts config.Options) []ResourceCount {
	if opts.ShowAll {
		return counts
	}
	top := opts.Top
	if top == 0 {
		top = a.Config.Top
	}
	return Top(counts, top)
}

func (a *Auditor) recorder() Recorder {
	if a.Recorder == nil {
		return nopRecorder{}
	}
	return a.Recorder
}
