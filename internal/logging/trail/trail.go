// Package trail keeps a structured record of what an operator did against a
// live cluster: who ran the audit, which confirmations were given or refused,
// and which bulk reads were issued.
package trail

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/storeaudit/storeaudit/internal/audit"
)

// Logger writes trail events. It implements audit.Recorder so measurements
// reach the trail without the audit engine knowing about it.
type Logger struct {
	logger zerolog.Logger
}

var _ audit.Recorder = (*Logger)(nil)

// NewLogger creates a trail logger on top of a zerolog.Logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

// Nop returns a Logger that discards every event.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// LogSession logs the identity the run executes as.
// user: identity reported by the control plane
// cli: binary used to reach the cluster ("oc", "kubectl")
// mode: selected workflow
// skipConfirm: whether non-strict gates were waived with --yes
func (l *Logger) LogSession(user, cli, mode string, skipConfirm bool) {
	l.logger.Info().
		Str("event_type", "session").
		Str("user", user).
		Str("cli", cli).
		Str("mode", mode).
		Bool("skip_confirm", skipConfirm).
		Msg("Audit session")
}

// LogGate logs the operator's answer to a confirmation gate. A refusal is
// logged at warn level.
func (l *Logger) LogGate(g audit.Gate, err error) {
	level := zerolog.InfoLevel
	result := "confirmed"
	switch {
	case errors.Is(err, audit.ErrNotConfirmed):
		level = zerolog.WarnLevel
		result = "refused"
	case err != nil:
		level = zerolog.ErrorLevel
		result = "error"
	}

	event := l.logger.WithLevel(level).
		Str("event_type", "confirmation").
		Bool("strict", g.Strict).
		Str("result", result).
		Str("prompt", g.Message)
	if err != nil {
		event = event.Str("details", err.Error())
	}
	event.Msg("Confirmation gate")
}

// Prompter wraps next so that every decision lands in the trail.
func (l *Logger) Prompter(next audit.Prompter) audit.Prompter {
	return gatePrompter{next: next, trail: l}
}

type gatePrompter struct {
	next  audit.Prompter
	trail *Logger
}

func (p gatePrompter) Confirm(g audit.Gate) error {
	err := p.next.Confirm(g)
	p.trail.LogGate(g, err)
	return err
}

// RecordCounts implements audit.Recorder.
func (l *Logger) RecordCounts(counts []audit.ResourceCount) {
	l.logger.Info().
		Str("event_type", "catalog").
		Int("kinds", len(counts)).
		Int64("objects", audit.TotalObjects(counts)).
		Msg("Object counts read")
}

// RecordEndpoints implements audit.Recorder.
func (l *Logger) RecordEndpoints(endpoints []audit.Fragmentation) {
	for _, ep := range endpoints {
		event := l.logger.Info().
			Str("event_type", "endpoint_status").
			Str("endpoint", ep.Endpoint).
			Int64("db_size", ep.PhysicalBytes).
			Int64("db_size_in_use", ep.UsedBytes).
			Bool("high", ep.High).
			Bool("critical", ep.Critical)
		if ep.Defined {
			event = event.Int("fragmentation_percent", ep.Percent)
		}
		event.Msg("Endpoint status")
	}
}

// RecordMeasurement implements audit.Recorder. Each call stands for one bulk
// read against the API or the store.
func (l *Logger) RecordMeasurement(kind string, m audit.SizeMeasurement, took time.Duration) {
	l.logger.Info().
		Str("event_type", "bulk_read").
		Str("resource", kind).
		Str("target", m.Target).
		Str("method", string(m.Method)).
		Int64("bytes", m.Bytes).
		Dur("took", took).
		Msg("Bulk read")
}

// RecordForensicRow implements audit.Recorder.
func (l *Logger) RecordForensicRow(row audit.ForensicRow) {
	level := zerolog.InfoLevel
	if row.Outcome() == audit.OutcomeFailed {
		level = zerolog.WarnLevel
	}

	event := l.logger.WithLevel(level).
		Str("event_type", "forensic_row").
		Str("resource", row.Kind).
		Str("outcome", row.Outcome()).
		Int64("api_count", row.APICount)
	if row.KeysKnown {
		event = event.Int64("physical_keys", row.PhysicalKeys)
	}
	if row.Error != "" {
		event = event.Str("details", row.Error)
	}
	event.Msg("Forensic row")
}

// LogResult logs how the run ended. A refused gate ends the run as aborted.
func (l *Logger) LogResult(err error) {
	switch {
	case err == nil:
		l.logger.Info().Str("event_type", "result").Str("result", "completed").Msg("Audit finished")
	case errors.Is(err, audit.ErrNotConfirmed):
		l.logger.Warn().Str("event_type", "result").Str("result", "aborted").Str("details", err.Error()).Msg("Audit finished")
	default:
		l.logger.Error().Str("event_type", "result").Str("result", "failed").Str("details", err.Error()).Msg("Audit finished")
	}
}
