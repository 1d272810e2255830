package audit

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const family = "apiserver_storage_objects"

func TestAggregateCounts_SumsSamplesOfSameKind(t *testing.T) {
	input := `apiserver_storage_objects{resource="secrets"} 500
apiserver_storage_objects{resource="secrets"} 300
`
	counts, err := AggregateCounts(strings.NewReader(input), family)
	require.NoError(t, err)
	assert.Equal(t, []ResourceCount{{Kind: "secrets", Count: 800}}, counts)
}

func TestAggregateCounts_SortedDescending(t *testing.T) {
	input := `# HELP apiserver_storage_objects Number of stored objects at the time of last check split by kind.
# TYPE apiserver_storage_objects gauge
apiserver_storage_objects{resource="configmaps"} 120
apiserver_storage_objects{resource="events"} 9000
apiserver_storage_objects{resource="routes.route.openshift.io"} 42
apiserver_storage_objects{resource="pods"} 450
`
	counts, err := AggregateCounts(strings.NewReader(input), family)
	require.NoError(t, err)

	require.Len(t, counts, 4)
	assert.Equal(t, "events", counts[0].Kind)
	assert.Equal(t, "pods", counts[1].Kind)
	assert.Equal(t, "configmaps", counts[2].Kind)
	assert.Equal(t, "routes.route.openshift.io", counts[3].Kind)
	for i := 1; i < len(counts); i++ {
		assert.GreaterOrEqual(t, counts[i-1].Count, counts[i].Count)
	}
}

func TestAggregateCounts_TiesKeepFirstSeenOrder(t *testing.T) {
	input := `apiserver_storage_objects{resource="b"} 10
apiserver_storage_objects{resource="a"} 10
apiserver_storage_objects{resource="c"} 10
apiserver_storage_objects{resource="big"} 11
`
	for i := 0; i < 20; i++ {
		counts, err := AggregateCounts(strings.NewReader(input), family)
		require.NoError(t, err)
		kinds := make([]string, 0, len(counts))
		for _, c := range counts {
			kinds = append(kinds, c.Kind)
		}
		assert.Equal(t, []string{"big", "b", "a", "c"}, kinds)
	}
}

func TestAggregateCounts_SkipsUnmatchedLines(t *testing.T) {
	input := `apiserver_storage_objects{resource="secrets"} 5
apiserver_request_total{resource="secrets",verb="GET"} 99999
apiserver_storage_objects{group="apps"} 7
apiserver_storage_objects 13
apiserver_storage_objects{resource="pods"} not-a-number
apiserver_storage_objects{resource="pods"} -4
apiserver_storage_objects{resource="pods"} NaN
apiserver_storage_objects{resource="pods" 3
garbage line
apiserver_storage_objects_total{resource="pods"} 11

apiserver_storage_objects{resource="pods"} 2
`
	counts, err := AggregateCounts(strings.NewReader(input), family)
	require.NoError(t, err)
	assert.Equal(t, []ResourceCount{
		{Kind: "secrets", Count: 5},
		{Kind: "pods", Count: 2},
	}, counts)
}

func TestAggregateCounts_LabelOrderAndEscapes(t *testing.T) {
	input := `apiserver_storage_objects{group="",resource="widgets.example.com",extra="a \"quoted\", value"} 3 1700000000000
apiserver_storage_objects{extra="x",resource="widgets.example.com"} 1.0
apiserver_storage_objects{resource="gadgets"} 2e+01
`
	counts, err := AggregateCounts(strings.NewReader(input), family)
	require.NoError(t, err)
	assert.Equal(t, []ResourceCount{
		{Kind: "gadgets", Count: 20},
		{Kind: "widgets.example.com", Count: 4},
	}, counts)
}

func TestAggregateCounts_SumMatchesRawSamples(t *testing.T) {
	var (
		sb       strings.Builder
		expected int64
	)
	kinds := []string{"secrets", "configmaps", "pods", "leases"}
	for i := 0; i < 200; i++ {
		v := int64(i*7%31 + 1)
		expected += v
		sb.WriteString(`apiserver_storage_objects{resource="`)
		sb.WriteString(kinds[i%len(kinds)])
		sb.WriteString(`"} `)
		sb.WriteString(strconv.FormatInt(v, 10))
		sb.WriteString("\n")
	}

	counts, err := AggregateCounts(strings.NewReader(sb.String()), family)
	require.NoError(t, err)
	assert.Len(t, counts, len(kinds))
	assert.Equal(t, expected, TotalObjects(counts))
}

func TestTop(t *testing.T) {
	counts := []ResourceCount{{"a", 3}, {"b", 2}, {"c", 1}}
	assert.Equal(t, counts[:2], Top(counts, 2))
	assert.Equal(t, counts, Top(counts, 0))
	assert.Equal(t, counts, Top(counts, 10))
}
