package grantsgov

import (
	"encoding/xml"
	"math"
	"strconv"
	"strings"
	"time"
)

// node is a generic record element: child element name to text values.
type node map[string][]string

// rawElement captures an arbitrary element subtree.
type rawElement struct {
	XMLName  xml.Name
	Attrs    []xml.Attr   `xml:",any,attr"`
	Text     string       `xml:",chardata"`
	Children []rawElement `xml:",any"`
}

// flatten collects the record's direct children. A child that wraps further
// elements (a list container) contributes the text of each grandchild.
func (e rawElement) flatten() node {
	n := make(node, len(e.Children))
	for _, child := range e.Children {
		name := child.XMLName.Local
		n[name] = append(n[name], child.values()...)
	}
	return n
}

func (e rawElement) values() []string {
	if text := strings.TrimSpace(e.Text); text != "" {
		return []string{text}
	}
	if len(e.Children) > 0 {
		var out []string
		for _, c := range e.Children {
			out = append(out, c.values()...)
		}
		return out
	}
	for _, attr := range e.Attrs {
		if attr.Name.Local == "value" {
			if v := strings.TrimSpace(attr.Value); v != "" {
				return []string{v}
			}
		}
	}
	return nil
}

// lookup returns the values of the first alias present on the node.
func (n node) lookup(aliases ...string) []string {
	for _, name := range aliases {
		if vals, ok := n[name]; ok && len(vals) > 0 {
			return vals
		}
	}
	return nil
}

func text(values []string) *string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return &v
		}
	}
	return nil
}

func textValue(values []string) string {
	if t := text(values); t != nil {
		return *t
	}
	return ""
}

// number strips currency symbols, separators and anything else that is not
// part of a decimal number, then rounds to an integer.
func number(values []string) *int64 {
	raw := textValue(values)
	if raw == "" {
		return nil
	}
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, raw)
	if cleaned == "" {
		return nil
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	f = math.Round(f)
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return nil
	}
	n := int64(f)
	return &n
}

var dateLayouts = []string{
	"01022006", // grants.gov extract format
	"2006-01-02",
	"01/02/2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"Jan 2, 2006",
	"January 2, 2006",
}

// date parses the first value against the known layouts; invalid calendar
// dates yield nil.
func date(values []string) *time.Time {
	raw := textValue(values)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// joined normalises a single value or a list into one comma-separated string.
func joined(values []string) *string {
	parts := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	s := strings.Join(parts, ", ")
	return &s
}

func list(values []string) []string {
	if j := joined(values); j != nil {
		return strings.Split(*j, ", ")
	}
	return nil
}
