package audit

import "time"

// Recorder receives audit results as they are produced, e.g. to export them
// as metrics or trail events. Implementations should return quickly.
type Recorder interface {
	RecordCounts(counts []ResourceCount)
	RecordEndpoints(endpoints []Fragmentation)
	RecordMeasurement(kind string, m SizeMeasurement, took time.Duration)
	RecordForensicRow(row ForensicRow)
}

type nopRecorder struct{}

func (nopRecorder) RecordCounts([]ResourceCount)                             {}
func (nopRecorder) RecordEndpoints([]Fragmentation)                          {}
func (nopRecorder) RecordMeasurement(string, SizeMeasurement, time.Duration) {}
func (nopRecorder) RecordForensicRow(ForensicRow)                            {}

// Recorders fans every result out to each recorder in order.
type Recorders []Recorder

func (rs Recorders) RecordCounts(counts []ResourceCount) {
	for _, r := range rs {
		r.RecordCounts(counts)
	}
}

func (rs Recorders) RecordEndpoints(endpoints []Fragmentation) {
	for _, r := range rs {
		r.RecordEndpoints(endpoints)
	}
}

func (rs Recorders) RecordMeasurement(kind string, m SizeMeasurement, took time.Duration) {
	for _, r := range rs {
		r.RecordMeasurement(kind, m, took)
	}
}

func (rs Recorders) RecordForensicRow(row ForensicRow) {
	for _, r := range rs {
		r.RecordForensicRow(row)
	}
}
