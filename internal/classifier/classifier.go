// Package classifier derives a Pass/Fail verdict from test report JSON of any shape.
package classifier

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Verdict is the overall outcome of a test report
type Verdict string

const (
	Pass Verdict = "Pass"
	Fail Verdict = "Fail"
)

// Limits on the tree walk. Reports exceeding them are treated as failing.
const (
	MaxDepth = 512
	MaxNodes = 1_000_000
)

// Properties whose value "Fail" marks a failing test anywhere in the report
var failKeys = map[string]struct{}{
	"status":     {},
	"result":     {},
	"testResult": {},
}

// Classify parses raw JSON and classifies it. Invalid JSON is Fail.
func Classify(content []byte) Verdict {
	if nestedDeeper(content, MaxDepth) || !gjson.ValidBytes(content) {
		return Fail
	}
	return ClassifyResult(gjson.ParseBytes(content))
}

// ClassifyValue classifies an already decoded value. Values that cannot be
// encoded as JSON (cycles, channels, funcs) are Fail.
func ClassifyValue(v any) Verdict {
	raw, err := json.Marshal(v)
	if err != nil {
		return Fail
	}
	return Classify(raw)
}

// ClassifyResult classifies a parsed document.
//
// A top-level stats.failures above zero wins. Otherwise the document is walked
// depth first and any object whose status, result or testResult property is the
// string "Fail" makes the report fail. Everything else passes.
func ClassifyResult(root gjson.Result) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = Fail
		}
	}()

	if hasStatsFailures(root) {
		return Fail
	}

	w := &walker{}
	if w.failing(root, 0) || w.exceeded {
		return Fail
	}
	return Pass
}

func hasStatsFailures(root gjson.Result) bool {
	if !root.IsObject() {
		return false
	}
	stats := root.Get("stats")
	if !stats.IsObject() {
		return false
	}
	failures := stats.Get("failures")
	return failures.Type == gjson.Number && failures.Num > 0
}

type walker struct {
	nodes    int
	exceeded bool
}

// failing reports whether a failing indicator exists at or below v
func (w *walker) failing(v gjson.Result, depth int) bool {
	w.nodes++
	if depth > MaxDepth || w.nodes > MaxNodes {
		w.exceeded = true
		return true
	}

	switch {
	case v.IsObject():
		found := false
		v.ForEach(func(key, value gjson.Result) bool {
			if _, ok := failKeys[key.Str]; ok && value.Type == gjson.String && value.Str == string(Fail) {
				found = true
				return false
			}
			if w.failing(value, depth+1) {
				found = true
				return false
			}
			return true
		})
		return found
	case v.IsArray():
		found := false
		v.ForEach(func(_, value gjson.Result) bool {
			if w.failing(value, depth+1) {
				found = true
				return false
			}
			return true
		})
		return found
	default:
		return false
	}
}

// nestedDeeper scans brackets outside of strings so pathological nesting is
// rejected before the recursive validator sees it.
func nestedDeeper(content []byte, limit int) bool {
	depth := 0
	inString := false
	escaped := false
	for _, c := range content {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > limit {
				return true
			}
		case '}', ']':
			depth--
		}
	}
	return false
}
