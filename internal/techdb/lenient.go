package techdb

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// The rule database is community-maintained JSON. Every type below accepts
// the shapes seen in the wild and silently drops anything else, so one odd
// field never invalidates a technology.

// scalarString renders a JSON scalar as a string. Objects, arrays and null
// are rejected.
func scalarString(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// lenientStr is a string that tolerates non-string JSON
type lenientStr string

func (s *lenientStr) UnmarshalJSON(data []byte) error {
	var v interface{}
	if json.Unmarshal(data, &v) != nil {
		return nil
	}
	if str, ok := scalarString(v); ok {
		*s = lenientStr(str)
	}
	return nil
}

// PatternList is a list of raw patterns given as a string or an array
type PatternList []string

func (p *PatternList) UnmarshalJSON(data []byte) error {
	var v interface{}
	if json.Unmarshal(data, &v) != nil {
		return nil
	}
	*p = toStrings(v)
	return nil
}

func toStrings(v interface{}) []string {
	switch x := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := scalarString(item); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s, ok := scalarString(x); ok && s != "" {
			return []string{s}
		}
	}
	return nil
}

// PatternMap holds keyed rules such as headers, cookies and meta. Keys keep
// their source spelling; values are raw patterns, possibly empty.
type PatternMap map[string][]string

func (p *PatternMap) UnmarshalJSON(data []byte) error {
	var obj map[string]interface{}
	if json.Unmarshal(data, &obj) != nil {
		return nil
	}
	out := make(PatternMap, len(obj))
	for key, v := range obj {
		if strings.TrimSpace(key) == "" {
			continue
		}
		switch x := v.(type) {
		case []interface{}:
			var values []string
			for _, item := range x {
				if s, ok := scalarString(item); ok {
					values = append(values, s)
				}
			}
			if len(values) > 0 {
				out[key] = values
			}
		default:
			if s, ok := scalarString(x); ok {
				out[key] = []string{s}
			}
		}
	}
	*p = out
	return nil
}

// Keys returns the map keys in sorted order
func (p PatternMap) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SlugList is a list of technology names given as an array or as a string
// separated by commas or newlines
type SlugList []string

func (l *SlugList) UnmarshalJSON(data []byte) error {
	var v interface{}
	if json.Unmarshal(data, &v) != nil {
		return nil
	}
	*l = parseSlugList(v)
	return nil
}

// parseSlugList normalizes a decoded JSON value into a SlugList
func parseSlugList(v interface{}) SlugList {
	var items []string
	switch x := v.(type) {
	case []interface{}:
		for _, item := range x {
			if s, ok := scalarString(item); ok {
				items = append(items, s)
			}
		}
	default:
		s, ok := scalarString(x)
		if !ok {
			return nil
		}
		items = strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' })
	}

	out := make(SlugList, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// IntList is a list of numeric ids given as numbers or numeric strings
type IntList []int

func (l *IntList) UnmarshalJSON(data []byte) error {
	var v interface{}
	if json.Unmarshal(data, &v) != nil {
		return nil
	}
	var items []interface{}
	if arr, ok := v.([]interface{}); ok {
		items = arr
	} else {
		items = []interface{}{v}
	}

	out := make(IntList, 0, len(items))
	for _, item := range items {
		switch x := item.(type) {
		case float64:
			out = append(out, int(x))
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
				out = append(out, n)
			}
		}
	}
	*l = out
	return nil
}

// AttributeRule tests one attribute of the nodes matched by a selector
type AttributeRule struct {
	Name    string
	Pattern string
}

// DOMRule is the rule set for one CSS selector
type DOMRule struct {
	Selector   string
	Exists     bool
	Text       string
	Attributes []AttributeRule
}

// DOMRules are the DOM rules of a technology, ordered by selector
type DOMRules []DOMRule

// UnmarshalJSON accepts a selector string, a list of selectors (both meaning
// "exists") or an object keyed by selector
func (d *DOMRules) UnmarshalJSON(data []byte) error {
	var v interface{}
	if json.Unmarshal(data, &v) != nil {
		return nil
	}

	var rules DOMRules
	switch x := v.(type) {
	case string:
		if sel := strings.TrimSpace(x); sel != "" {
			rules = append(rules, DOMRule{Selector: sel, Exists: true})
		}
	case []interface{}:
		for _, item := range x {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				rules = append(rules, DOMRule{Selector: strings.TrimSpace(s), Exists: true})
			}
		}
	case map[string]interface{}:
		selectors := make([]string, 0, len(x))
		for sel := range x {
			selectors = append(selectors, sel)
		}
		sort.Strings(selectors)
		for _, sel := range selectors {
			if strings.TrimSpace(sel) == "" {
				continue
			}
			rules = append(rules, parseDOMRule(sel, x[sel]))
		}
	}
	*d = rules
	return nil
}

func parseDOMRule(selector string, v interface{}) DOMRule {
	rule := DOMRule{Selector: selector}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return rule
	}

	// Any "exists" value other than false means existence is enough
	if ex, ok := obj["exists"]; ok {
		if b, isBool := ex.(bool); !isBool || b {
			rule.Exists = true
		}
	}
	if text, ok := scalarString(obj["text"]); ok {
		rule.Text = text
	}
	if attrs, ok := obj["attributes"].(map[string]interface{}); ok {
		names := make([]string, 0, len(attrs))
		for name := range attrs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if pattern, ok := scalarString(attrs[name]); ok {
				rule.Attributes = append(rule.Attributes, AttributeRule{Name: name, Pattern: pattern})
			}
		}
	}
	return rule
}
