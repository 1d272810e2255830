package audit

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

const maxMetricLine = 1024 * 1024

// AggregateCounts reads Prometheus exposition text and sums the samples of
// one series family by their resource label. Lines that are not samples of
// family, or carry no resource label, are skipped. The result is sorted by
// count, largest first; equal counts keep the order in which the kind first
// appeared.
func AggregateCounts(r io.Reader, family string) ([]ResourceCount, error) {
	var (
		order []string
		sums  = make(map[string]int64)
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxMetricLine)

	for scanner.Scan() {
		kind, value, ok := parseResourceSample(scanner.Text(), family)
		if !ok {
			continue
		}
		if _, seen := sums[kind]; !seen {
			order = append(order, kind)
		}
		sums[kind] += value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}

	counts := make([]ResourceCount, 0, len(order))
	for _, kind := range order {
		counts = append(counts, ResourceCount{Kind: kind, Count: sums[kind]})
	}
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})
	return counts, nil
}

// parseResourceSample extracts the resource label and value from one sample
// line of the form name{a="b",resource="kind"} 123.
func parseResourceSample(line, family string) (string, int64, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return "", 0, false
	}

	open := strings.IndexByte(line, '{')
	if open == -1 || line[:open] != family {
		return "", 0, false
	}
	closing := strings.LastIndexByte(line, '}')
	if closing < open {
		return "", 0, false
	}

	kind, ok := labelValue(line[open+1:closing], "resource")
	if !ok || kind == "" {
		return "", 0, false
	}

	// The value is the first field after the labels; an optional timestamp may follow.
	fields := strings.Fields(line[closing+1:])
	if len(fields) == 0 {
		return "", 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return "", 0, false
	}
	return kind, int64(math.Round(v)), true
}

// labelValue finds name="value" inside a label set, honoring escaped quotes.
func labelValue(labels, name string) (string, bool) {
	for len(labels) > 0 {
		eq := strings.IndexByte(labels, '=')
		if eq == -1 || eq+1 >= len(labels) || labels[eq+1] != '"' {
			return "", false
		}
		key := strings.TrimSpace(labels[:eq])

		var (
			sb  strings.Builder
			end = -1
		)
		for i := eq + 2; i < len(labels); i++ {
			c := labels[i]
			if c == '\\' && i+1 < len(labels) {
				i++
				switch labels[i] {
				case 'n':
					sb.WriteByte('\n')
				default:
					sb.WriteByte(labels[i])
				}
				continue
			}
			if c == '"' {
				end = i
				break
			}
			sb.WriteByte(c)
		}
		if end == -1 {
			return "", false
		}
		if key == name {
			return sb.String(), true
		}

		labels = strings.TrimLeft(labels[end+1:], ", ")
	}
	return "", false
}

// TotalObjects sums the counts of every kind.
func TotalObjects(counts []ResourceCount) int64 {
	var total int64
	for _, c := range counts {
		total += c.Count
	}
	return total
}

// Top returns the first n counts, or all of them when n is not positive.
func Top(counts []ResourceCount, n int) []ResourceCount {
	if n <= 0 || n >= len(counts) {
		return counts
	}
	return counts[:n]
}
