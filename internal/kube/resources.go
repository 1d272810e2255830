package kube

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// APIResource is one row of the API discovery table.
type APIResource struct {
	Name       string
	ShortNames []string
	Group      string
	Kind       string
}

// Canonical returns the resource name as the metrics source labels it:
// the plural name, suffixed with the API group when there is one.
func (r APIResource) Canonical() string {
	if r.Group == "" {
		return r.Name
	}
	return r.Name + "." + r.Group
}

// Matches reports whether alias names this resource. Plural names, short
// names, kinds and fully qualified names are accepted in any case.
func (r APIResource) Matches(alias string) bool {
	if strings.EqualFold(alias, r.Name) || strings.EqualFold(alias, r.Kind) || strings.EqualFold(alias, r.Canonical()) {
		return true
	}
	for _, s := range r.ShortNames {
		if strings.EqualFold(alias, s) {
			return true
		}
	}
	return false
}

// ParseAPIResources reads the table printed by "api-resources". Columns are
// located by their header offsets because SHORTNAMES is often blank.
func ParseAPIResources(r io.Reader) ([]APIResource, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read api resources: %w", err)
		}
		return nil, fmt.Errorf("read api resources: empty output")
	}

	cols := headerColumns(scanner.Text())
	nameCol, ok := cols["NAME"]
	if !ok {
		return nil, fmt.Errorf("read api resources: no NAME column in %q", scanner.Text())
	}
	kindCol, hasKind := cols["KIND"]

	var out []APIResource
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		res := APIResource{Name: nameCol.field(line)}
		if res.Name == "" {
			continue
		}
		if c, ok := cols["SHORTNAMES"]; ok {
			if s := c.field(line); s != "" {
				res.ShortNames = strings.Split(s, ",")
			}
		}
		if c, ok := cols["APIVERSION"]; ok {
			// "apps/v1" belongs to group "apps"; "v1" is the core group
			if gv := c.field(line); strings.Contains(gv, "/") {
				res.Group = gv[:strings.LastIndex(gv, "/")]
			}
		} else if c, ok := cols["APIGROUP"]; ok {
			res.Group = c.field(line)
		}
		if hasKind {
			res.Kind = kindCol.field(line)
		}
		out = append(out, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read api resources: %w", err)
	}
	return out, nil
}

type column struct {
	start, end int // end < 0 means to end of line
}

func (c column) field(line string) string {
	if c.start >= len(line) {
		return ""
	}
	end := c.end
	if end < 0 || end > len(line) {
		end = len(line)
	}
	return strings.TrimSpace(line[c.start:end])
}

func headerColumns(header string) map[string]column {
	type title struct {
		name  string
		start int
	}
	var titles []title
	for i := 0; i < len(header); {
		if header[i] == ' ' {
			i++
			continue
		}
		j := i
		for j < len(header) && header[j] != ' ' {
			j++
		}
		titles = append(titles, title{name: header[i:j], start: i})
		i = j
	}

	cols := make(map[string]column, len(titles))
	for i, t := range titles {
		end := -1
		if i+1 < len(titles) {
			end = titles[i+1].start
		}
		cols[t.name] = column{start: t.start, end: end}
	}
	return cols
}
