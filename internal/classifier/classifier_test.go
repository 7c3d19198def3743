package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Verdict
	}{
		{"stats failures positive", `{"stats":{"failures":1,"tests":5}}`, Fail},
		{"stats failures beats passing statuses", `{"stats":{"failures":2},"results":[{"status":"Pass"}]}`, Fail},
		{"stats failures fractional", `{"stats":{"failures":0.5}}`, Fail},
		{"stats failures zero with passing tree", `{"stats":{"failures":0},"results":[{"suites":[{"tests":[{"pass":true}]}]}]}`, Pass},
		{"stats failures as string is ignored", `{"stats":{"failures":"3"}}`, Pass},
		{"stats failures negative", `{"stats":{"failures":-1}}`, Pass},
		{"nested stats is not top level", `{"run":{"stats":{"failures":4}}}`, Pass},
		{"top-level array with result Fail", `[{"result":"Fail"}]`, Fail},
		{"deep status Fail", `{"a":{"b":[{"c":[{"status":"Fail"}]}]}}`, Fail},
		{"testResult Fail", `{"suites":[{"testResult":"Fail"}]}`, Fail},
		{"lowercase fail does not count", `[{"status":"fail"}]`, Pass},
		{"Fail under other key does not count", `{"outcome":"Fail"}`, Pass},
		{"status object is descended", `{"status":{"detail":{"result":"Fail"}}}`, Fail},
		{"Fail inside string array is not a property", `{"tags":["Fail"]}`, Pass},
		{"all passing", `{"tests":[{"status":"Pass"},{"result":"Pass"}]}`, Pass},
		{"empty object", `{}`, Pass},
		{"empty array", `[]`, Pass},
		{"null", `null`, Pass},
		{"primitive", `42`, Pass},
		{"invalid json", `{"stats":`, Fail},
		{"empty input", ``, Fail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify([]byte(tt.content)))
		})
	}
}

func TestClassify_Idempotent(t *testing.T) {
	content := []byte(`{"suites":[{"tests":[{"status":"Pass"},{"status":"Fail"}]}]}`)
	first := Classify(content)
	assert.Equal(t, Fail, first)
	assert.Equal(t, first, Classify(content))
}

func TestClassify_DepthLimit(t *testing.T) {
	deep := strings.Repeat("[", MaxDepth+10) + strings.Repeat("]", MaxDepth+10)
	assert.Equal(t, Fail, Classify([]byte(deep)))

	shallow := strings.Repeat("[", 10) + strings.Repeat("]", 10)
	assert.Equal(t, Pass, Classify([]byte(shallow)))
}

func TestClassify_BracketsInsideStringsDoNotCount(t *testing.T) {
	content := `{"log":"` + strings.Repeat("[{", MaxDepth) + `"}`
	assert.Equal(t, Pass, Classify([]byte(content)))
}

func TestClassifyResult_WalkDepthLimit(t *testing.T) {
	deep := strings.Repeat("[", MaxDepth+5) + strings.Repeat("]", MaxDepth+5)
	assert.Equal(t, Fail, ClassifyResult(gjson.Parse(deep)))
}

func TestClassifyValue(t *testing.T) {
	assert.Equal(t, Fail, ClassifyValue(map[string]any{
		"stats": map[string]any{"failures": 3},
	}))
	assert.Equal(t, Fail, ClassifyValue([]any{map[string]any{"result": "Fail"}}))
	assert.Equal(t, Pass, ClassifyValue(map[string]any{"result": "Pass"}))
	assert.Equal(t, Pass, ClassifyValue(nil))

	cyclic := map[string]any{}
	cyclic["self"] = cyclic
	assert.Equal(t, Fail, ClassifyValue(cyclic))

	assert.Equal(t, Fail, ClassifyValue(make(chan int)))
}
