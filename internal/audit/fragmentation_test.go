package audit

import (
	"testing"

	"github.com/storeaudit/storeaudit/pkg/bytesize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const endpointStatusJSON = `[
  {"Endpoint":"https://10.0.0.3:2379","Status":{"header":{"cluster_id":1,"member_id":11,"revision":9,"raft_term":4},"version":"3.5.9","dbSize":2097152000,"leader":11,"raftIndex":77,"raftTerm":4,"dbSizeInUse":1048576000}},
  {"Endpoint":"https://10.0.0.4:2379","Status":{"header":{"cluster_id":1,"member_id":12,"revision":9,"raft_term":4},"version":"3.5.9","dbSize":104857600,"leader":11,"raftIndex":77,"raftTerm":4,"dbSizeInUse":94371840}},
  {"Endpoint":"https://10.0.0.5:2379","Status":{"header":{"cluster_id":1,"member_id":13},"version":"3.5.9","dbSize":0,"leader":11,"dbSizeInUse":0}}
]`

var defaultPolicy = FragmentationPolicy{HighPercent: 45, CriticalBytes: 1500 * bytesize.MB}

func TestParseEndpointStatus(t *testing.T) {
	statuses, err := ParseEndpointStatus([]byte(endpointStatusJSON))
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	assert.Equal(t, "https://10.0.0.3:2379", statuses[0].Endpoint)
	assert.Equal(t, 2000*bytesize.MB, statuses[0].PhysicalBytes)
	assert.Equal(t, 1000*bytesize.MB, statuses[0].UsedBytes)
	assert.Equal(t, "3.5.9", statuses[0].Version)
	assert.True(t, statuses[0].Leader)
	assert.False(t, statuses[1].Leader)
}

func TestParseEndpointStatus_Invalid(t *testing.T) {
	_, err := ParseEndpointStatus([]byte(`{"not":"a list"`))
	assert.Error(t, err)
}

func TestAnalyzeFragmentation_HighAndCritical(t *testing.T) {
	frags := AnalyzeFragmentation([]EndpointStatus{{
		Endpoint:      "a",
		PhysicalBytes: 2000 * bytesize.MB,
		UsedBytes:     1000 * bytesize.MB,
	}}, defaultPolicy)

	require.Len(t, frags, 1)
	assert.True(t, frags[0].Defined)
	assert.Equal(t, 50, frags[0].Percent)
	assert.True(t, frags[0].High, "50 percent is above the 45 percent threshold")
	assert.True(t, frags[0].Critical, "2000MB is above the 1500MB threshold")
}

func TestAnalyzeFragmentation_Thresholds(t *testing.T) {
	tests := []struct {
		name     string
		physical int64
		used     int64
		percent  int
		high     bool
		critical bool
	}{
		{"healthy", 100 * bytesize.MB, 90 * bytesize.MB, 10, false, false},
		{"exactly at threshold is not high", 100, 55, 45, false, false},
		{"just above threshold", 100, 54, 46, true, false},
		{"exactly critical size is not critical", 1500 * bytesize.MB, 1500 * bytesize.MB, 0, false, false},
		{"above critical size", 1500*bytesize.MB + 1, 1500 * bytesize.MB, 0, false, true},
		{"used above physical clamps to zero", 100, 120, 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frags := AnalyzeFragmentation([]EndpointStatus{{PhysicalBytes: tt.physical, UsedBytes: tt.used}}, defaultPolicy)
			require.Len(t, frags, 1)
			assert.True(t, frags[0].Defined)
			assert.Equal(t, tt.percent, frags[0].Percent)
			assert.Equal(t, tt.high, frags[0].High)
			assert.Equal(t, tt.critical, frags[0].Critical)
		})
	}
}

func TestAnalyzeFragmentation_ZeroPhysicalIsUndefined(t *testing.T) {
	statuses, err := ParseEndpointStatus([]byte(endpointStatusJSON))
	require.NoError(t, err)

	frags := AnalyzeFragmentation(statuses, defaultPolicy)
	require.Len(t, frags, 3)

	zero := frags[2]
	assert.False(t, zero.Defined)
	assert.Equal(t, 0, zero.Percent)
	assert.False(t, zero.High)
	assert.False(t, zero.Critical)

	assert.Equal(t, 10, frags[1].Percent)
}
