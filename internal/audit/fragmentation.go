package audit

import (
	"encoding/json"
	"fmt"
)

// FragmentationPolicy holds the limits used to flag storage replicas.
type FragmentationPolicy struct {
	HighPercent   int   // Fragmentation above this percentage is flagged high
	CriticalBytes int64 // Physical size above this is flagged critical
}

// Fragmentation is an endpoint status with its derived fragmentation.
type Fragmentation struct {
	EndpointStatus
	// Percent is (physical-used)/physical as an integer percentage. It is
	// only meaningful when Defined is true; a replica reporting zero
	// physical bytes has no fragmentation.
	Percent  int  `json:"fragmentation_percent"`
	Defined  bool `json:"fragmentation_defined"`
	High     bool `json:"high"`
	Critical bool `json:"critical"`
}

// endpointStatusRecord mirrors one entry of `etcdctl endpoint status -w json`.
type endpointStatusRecord struct {
	Endpoint string `json:"Endpoint"`
	Status   struct {
		Header struct {
			MemberID uint64 `json:"member_id"`
		} `json:"header"`
		Version     string `json:"version"`
		DBSize      int64  `json:"dbSize"`
		DBSizeInUse int64  `json:"dbSizeInUse"`
		Leader      uint64 `json:"leader"`
	} `json:"Status"`
}

// ParseEndpointStatus decodes the batch status response of the store into one
// EndpointStatus per replica.
func ParseEndpointStatus(data []byte) ([]EndpointStatus, error) {
	var records []endpointStatusRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse endpoint status: %w", err)
	}

	statuses := make([]EndpointStatus, 0, len(records))
	for _, r := range records {
		statuses = append(statuses, EndpointStatus{
			Endpoint:      r.Endpoint,
			PhysicalBytes: r.Status.DBSize,
			UsedBytes:     r.Status.DBSizeInUse,
			Version:       r.Status.Version,
			Leader:        r.Status.Leader != 0 && r.Status.Leader == r.Status.Header.MemberID,
		})
	}
	return statuses, nil
}

// AnalyzeFragmentation derives fragmentation and policy flags for every replica.
func AnalyzeFragmentation(statuses []EndpointStatus, policy FragmentationPolicy) []Fragmentation {
	out := make([]Fragmentation, 0, len(statuses))
	for _, s := range statuses {
		f := Fragmentation{EndpointStatus: s}
		if s.PhysicalBytes > 0 {
			free := s.PhysicalBytes - s.UsedBytes
			if free < 0 {
				free = 0
			}
			f.Percent = int(free * 100 / s.PhysicalBytes)
			f.Defined = true
			f.High = f.Percent > policy.HighPercent
		}
		f.Critical = policy.CriticalBytes > 0 && s.PhysicalBytes > policy.CriticalBytes
		out = append(out, f)
	}
	return out
}
