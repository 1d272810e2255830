package audit

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultProbeTimeout = 15 * time.Second

// ScanSummary tallies a forensic scan. Completed is the number of rows
// emitted before the scan ended, which is less than Total when the scan was
// cancelled or lost its connection to the store.
type ScanSummary struct {
	Total      int   `json:"total"`
	Completed  int   `json:"completed"`
	Measured   int   `json:"measured"`
	Skipped    int   `json:"skipped"`
	Unresolved int   `json:"unresolved"`
	Failed     int   `json:"failed"`
	Bytes      int64 `json:"bytes"`
	IndexKeys  int   `json:"index_keys"`
}

// ForensicScanner measures the exact footprint of every resource kind in the
// catalog, one kind at a time, pausing after each measurement.
type ForensicScanner struct {
	Storage  Storage
	Prompter Prompter
	Sleeper  Sleeper
	Recorder Recorder

	Token          string        // Acknowledgment required before the scan starts
	Throttle       time.Duration // Pause after every successful measurement
	MeasureTimeout time.Duration // Bound on a single range read; 0 means none
	ProbeTimeout   time.Duration // Bound on the connectivity probe after a failure
}

// Snapshot downloads the keys-only listing of the store into a KeyIndex.
func Snapshot(ctx context.Context, storage Storage) (*KeyIndex, error) {
	var buf bytes.Buffer
	if err := storage.ListKeys(ctx, &buf); err != nil {
		return nil, systemErr(SystemStorage, "list keys", err)
	}
	idx, err := ReadKeyIndex(&buf)
	if err != nil {
		return nil, systemErr(SystemStorage, "list keys", err)
	}
	log.Debug().Int("keys", idx.Len()).Msg("key index snapshot taken")
	return idx, nil
}

// Confirm asks for the forensic acknowledgment. It cannot be skipped and
// comes before any read, the metrics fetch included.
func (s *ForensicScanner) Confirm() error {
	return s.Prompter.Confirm(Gate{
		Message: fmt.Sprintf(
			"FORENSIC SCAN: every key of every resource kind will be range-read from the live store, "+
				"pausing %s between kinds.", s.Throttle),
		Token:  s.Token,
		Strict: true,
	})
}

// Run asks for the forensic acknowledgment, snapshots the key index and
// scans counts.
func (s *ForensicScanner) Run(ctx context.Context, counts []ResourceCount, emit func(ForensicRow) error) (ScanSummary, error) {
	if err := s.Confirm(); err != nil {
		return ScanSummary{Total: len(counts)}, err
	}
	return s.snapshotAndScan(ctx, counts, emit)
}

func (s *ForensicScanner) snapshotAndScan(ctx context.Context, counts []ResourceCount, emit func(ForensicRow) error) (ScanSummary, error) {
	idx, err := Snapshot(ctx, s.Storage)
	if err != nil {
		return ScanSummary{Total: len(counts)}, err
	}
	return s.Scan(ctx, counts, idx, emit)
}

// Scan audits counts against idx, largest kinds first, emitting one row per
// kind. Failures local to a kind are recorded on its row. The scan stops early
// when ctx is cancelled (checked before each kind, never mid-read), when emit
// fails, or when the store no longer answers after a failed measurement.
func (s *ForensicScanner) Scan(ctx context.Context, counts []ResourceCount, idx *KeyIndex, emit func(ForensicRow) error) (ScanSummary, error) {
	order := make([]ResourceCount, len(counts))
	copy(order, counts)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Count > order[j].Count
	})

	sum := ScanSummary{Total: len(order), IndexKeys: idx.Len()}
	measurer := ExactByPrefix{Storage: s.Storage}

	for i, rc := range order {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		row, measured, mErr := s.scanOne(ctx, measurer, idx, rc)
		switch row.Outcome() {
		case OutcomeSkipped:
			sum.Skipped++
		case OutcomeUnresolved:
			sum.Unresolved++
		case OutcomeFailed:
			sum.Failed++
		case OutcomeMeasured:
			sum.Measured++
			sum.Bytes += row.Measurement.Bytes
		}

		s.recorder().RecordForensicRow(row)
		if err := emit(row); err != nil {
			return sum, err
		}
		sum.Completed++

		if mErr != nil {
			if perr := s.probe(ctx); perr != nil {
				return sum, fmt.Errorf("%w after %d of %d resources: %w",
					ErrConnectivityLost, sum.Completed, sum.Total, systemErr(SystemStorage, "probe", perr))
			}
			continue
		}

		if measured && i < len(order)-1 {
			if err := s.sleeper().Sleep(ctx, s.Throttle); err != nil {
				return sum, err
			}
		}
	}

	return sum, nil
}

func (s *ForensicScanner) scanOne(ctx context.Context, m Measurer, idx *KeyIndex, rc ResourceCount) (ForensicRow, bool, error) {
	row := ForensicRow{Kind: rc.Kind, APICount: rc.Count}

	// Nothing stored, nothing to discover.
	if rc.Count == 0 {
		row.KeysKnown = true
		row.Measurement = &SizeMeasurement{Target: rc.Kind, Method: MethodExact}
		return row, false, nil
	}

	prefix, err := idx.InferPrefix(rc.Kind)
	if err != nil {
		log.Warn().Str("resource", rc.Kind).Msg("no key prefix found, skipping measurement")
		row.Error = err.Error()
		return row, false, nil
	}
	row.Prefix = prefix.Prefix
	row.KeysKnown = true
	row.PhysicalKeys = idx.CountUnder(prefix.Prefix)

	// An in-flight read is never interrupted by cancellation; only the
	// measure timeout bounds it.
	mctx := context.WithoutCancel(ctx)
	if s.MeasureTimeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(mctx, s.MeasureTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := m.Measure(mctx, Target{Kind: rc.Kind, Prefix: prefix.Prefix, Count: row.PhysicalKeys})
	took := time.Since(start)
	if err != nil {
		log.Warn().Err(err).Str("resource", rc.Kind).Str("prefix", prefix.Prefix).Msg("measurement failed")
		row.Error = err.Error()
		return row, false, err
	}

	s.recorder().RecordMeasurement(rc.Kind, res, took)
	log.Debug().
		Str("resource", rc.Kind).
		Str("prefix", prefix.Prefix).
		Int64("keys", row.PhysicalKeys).
		Int64("bytes", res.Bytes).
		Dur("took", took).
		Msg("measured")
	row.Measurement = &res
	return row, true, nil
}

func (s *ForensicScanner) probe(ctx context.Context) error {
	timeout := s.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return s.Storage.Ping(pctx)
}

func (s *ForensicScanner) sleeper() Sleeper {
	if s.Sleeper == nil {
		return TimerSleeper{}
	}
	return s.Sleeper
}

func (s *ForensicScanner) recorder() Recorder {
	if s.Recorder == nil {
		return nopRecorder{}
	}
	return s.Recorder
}
