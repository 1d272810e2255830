package config

import "fmt"

// Mode is the single workflow executed by one invocation.
type Mode string

const (
	ModeSummary  Mode = "summary"
	ModeEstimate Mode = "estimate"
	ModeExact    Mode = "exact"
	ModeForensic Mode = "forensic"
)

// Output formats understood by the report renderer.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// Options is the immutable per-run selection built once by the command line layer.
type Options struct {
	Mode        Mode
	Resource    string // Resource alias for ModeExact
	Top         int    // Rows shown in listings; 0 means the configured default
	ShowAll     bool   // List (and, in ModeEstimate, measure) the whole catalog
	SkipConfirm bool   // Suppress confirmations; never honored by ModeForensic
	Output      string
	MetricsFile string
}

// ModeFlags are the raw workflow switches as typed by the operator.
type ModeFlags struct {
	Size     bool
	Exact    string
	Forensic bool
}

// ResolveMode picks the most specific workflow when several are requested:
// forensic, then exact, then size estimate, then summary.
func ResolveMode(f ModeFlags) Mode {
	switch {
	case f.Forensic:
		return ModeForensic
	case f.Exact != "":
		return ModeExact
	case f.Size:
		return ModeEstimate
	default:
		return ModeSummary
	}
}

// Validate checks that the options are consistent.
func (o Options) Validate() error {
	switch o.Mode {
	case ModeSummary, ModeEstimate, ModeForensic:
	case ModeExact:
		if o.Resource == "" {
			return fmt.Errorf("exact mode requires a resource name")
		}
	default:
		return fmt.Errorf("unknown mode %q", o.Mode)
	}
	if o.Top < 0 {
		return fmt.Errorf("top must not be negative")
	}
	switch o.Output {
	case "", OutputTable, OutputJSON:
	default:
		return fmt.Errorf("unknown output format %q (want %s or %s)", o.Output, OutputTable, OutputJSON)
	}
	return nil
}
