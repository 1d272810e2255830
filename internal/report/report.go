// Package report renders audit reports for operators, as aligned tables or
// as JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"

	"github.com/storeaudit/storeaudit/internal/audit"
	"github.com/storeaudit/storeaudit/internal/config"
	"github.com/storeaudit/storeaudit/pkg/bytesize"
)

// Undefined is printed for values that cannot be computed.
const Undefined = bytesize.Undefined

// Render writes rep in the given output format.
func Render(w io.Writer, rep *audit.Report, format string) error {
	if format == config.OutputJSON {
		return JSON(w, rep)
	}
	return Table(w, rep)
}

// JSON writes rep as indented JSON.
func JSON(w io.Writer, rep *audit.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// Table writes every section of rep that holds data.
func Table(w io.Writer, rep *audit.Report) error {
	p := &printer{w: w}

	if rep.Mode != config.ModeExact {
		p.linef("Resource kinds: %d   Objects: %d", rep.TotalKinds, rep.TotalObjects)
	}

	if len(rep.Members) > 0 {
		p.section("Storage members")
		p.table(func(tw io.Writer) {
			_, _ = fmt.Fprintln(tw, "NAME\tNODE\tPHASE\tREADY")
			for _, m := range rep.Members {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", m.Name, m.Node, m.Phase, m.Ready)
			}
		})
	}

	if len(rep.Endpoints) > 0 {
		p.section("Storage endpoints")
		p.table(func(tw io.Writer) { endpointRows(tw, rep.Endpoints) })
	}

	switch {
	case rep.Estimates != nil:
		p.section("Size estimates")
		p.table(func(tw io.Writer) { estimateRows(tw, rep.Estimates) })
		p.linef("Estimates measure the API's JSON encoding, roughly three times the stored size.")
		p.truncation(len(rep.Estimates), rep.TotalKinds)
	case len(rep.Counts) > 0:
		p.section("Objects per resource")
		p.table(func(tw io.Writer) {
			_, _ = fmt.Fprintln(tw, "RESOURCE\tOBJECTS")
			for _, rc := range rep.Counts {
				_, _ = fmt.Fprintf(tw, "%s\t%d\n", rc.Kind, rc.Count)
			}
		})
		p.truncation(len(rep.Counts), rep.TotalKinds)
	}

	if rep.Exact != nil {
		p.section("Exact size")
		exactSection(p, rep.Exact)
	}

	if rep.Forensic != nil {
		p.section("Forensic scan")
		s := NewForensicStream(w)
		s.Header()
		for _, row := range rep.Forensic {
			s.Row(row)
		}
	}
	if rep.Scan != nil {
		ScanSummary(w, rep.Scan)
	}

	return p.err
}

func endpointRows(tw io.Writer, endpoints []audit.Fragmentation) {
	_, _ = fmt.Fprintln(tw, "ENDPOINT\tDB SIZE\tIN USE\tFRAGMENTED\tLEADER\tFLAGS")
	for _, ep := range endpoints {
		frag := Undefined
		if ep.Defined {
			frag = fmt.Sprintf("%d%%", ep.Percent)
		}
		leader := ""
		if ep.Leader {
			leader = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			ep.Endpoint, bytesize.Format(ep.PhysicalBytes), bytesize.Format(ep.UsedBytes), frag, leader, Flags(ep))
	}
}

func estimateRows(tw io.Writer, rows []audit.EstimateRow) {
	_, _ = fmt.Fprintln(tw, "RESOURCE\tOBJECTS\tEST. SIZE\tAVG/OBJECT\tNOTE")
	for _, r := range rows {
		size, avg := Undefined, Undefined
		if r.Measurement != nil {
			size = bytesize.Format(r.Measurement.Bytes)
			avg = Average(r.Measurement.Bytes, r.Count)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", r.Kind, r.Count, size, avg, r.Error)
	}
}

func exactSection(p *printer, ex *audit.ExactResult) {
	if !ex.Resolved {
		p.linef("No key prefix found for %s (from %q); nothing was measured.", ex.Kind, ex.Alias)
		return
	}
	p.table(func(tw io.Writer) {
		size, avg := Undefined, Undefined
		if ex.Measurement != nil {
			size = bytesize.Format(ex.Measurement.Bytes)
			avg = Average(ex.Measurement.Bytes, ex.PhysicalKeys)
		}
		_, _ = fmt.Fprintln(tw, "RESOURCE\tPREFIX\tKEYS\tSIZE\tAVG/KEY")
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", ex.Kind, ex.Prefix, ex.PhysicalKeys, size, avg)
	})
}

// Flags lists the warnings raised for an endpoint, e.g. "HIGH,CRITICAL".
func Flags(ep audit.Fragmentation) string {
	var flags []string
	if ep.High {
		flags = append(flags, "HIGH")
	}
	if ep.Critical {
		flags = append(flags, "CRITICAL")
	}
	return strings.Join(flags, ",")
}

// Average formats bytes per item, or Undefined when there are no items.
func Average(bytes, items int64) string {
	avg, ok := bytesize.Ratio(bytes, items)
	if !ok {
		return Undefined
	}
	return bytesize.Format(int64(math.Round(avg)))
}

// ScanSummary writes the closing totals of a forensic scan.
func ScanSummary(w io.Writer, sum *audit.ScanSummary) {
	_, _ = fmt.Fprintf(w, "\nScanned %d of %d resource kinds against %d keys: %d measured, %d empty, %d unresolved, %d failed. Total measured: %s\n",
		sum.Completed, sum.Total, sum.IndexKeys, sum.Measured, sum.Skipped, sum.Unresolved, sum.Failed, bytesize.Format(sum.Bytes))
}

// ForensicStream prints forensic rows one at a time as a scan produces
// them. Columns have fixed widths so rows line up without buffering.
type ForensicStream struct {
	w io.Writer
}

// NewForensicStream returns a stream writing to w.
func NewForensicStream(w io.Writer) *ForensicStream {
	return &ForensicStream{w: w}
}

const forensicRowFormat = "%-44s %10s %10s %12s %12s  %s\n"

// Header writes the column titles.
func (s *ForensicStream) Header() {
	_, _ = fmt.Fprintf(s.w, forensicRowFormat, "RESOURCE", "API COUNT", "KEYS", "SIZE", "AVG/OBJECT", "NOTE")
}

// Row writes one row. Unknown key counts print as "?", missing sizes as
// Undefined.
func (s *ForensicStream) Row(row audit.ForensicRow) {
	keys := "?"
	if row.KeysKnown {
		keys = fmt.Sprintf("%d", row.PhysicalKeys)
	}
	size, avg := Undefined, Undefined
	if row.Measurement != nil {
		size = bytesize.Format(row.Measurement.Bytes)
		avg = Average(row.Measurement.Bytes, row.APICount)
	}
	note := row.Error
	if note == "" && row.Prefix != "" {
		note = row.Prefix
	}
	_, _ = fmt.Fprintf(s.w, forensicRowFormat, row.Kind, fmt.Sprintf("%d", row.APICount), keys, size, avg, note)
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) linef(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) section(title string) {
	p.linef("\n%s", title)
}

func (p *printer) table(fill func(tw io.Writer)) {
	if p.err != nil {
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fill(tw)
	p.err = tw.Flush()
}

func (p *printer) truncation(shown, total int) {
	if shown < total {
		p.linef("Showing %d of %d resource kinds; use --all to list every kind.", shown, total)
	}
}
