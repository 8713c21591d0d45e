package mission

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func view(t *testing.T, raw string) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestEvalConditionComparisons(t *testing.T) {
	v := view(t, `{"score": 70, "rate": 0.5, "name": "api"}`)

	cases := []struct {
		cond string
		want bool
	}{
		{"score > 80", false},
		{"score > 60", true},
		{"score >= 70", true},
		{"score <= 70", true},
		{"score < 70", false},
		{"score == 70", true},
		{"score != 70", false},
		{"rate < 1", true},
		{"name == name", true},
	}
	for _, tc := range cases {
		got, err := evalCondition(tc.cond, v)
		require.NoError(t, err, tc.cond)
		assert.Equal(t, tc.want, got, tc.cond)
	}
}

func TestEvalConditionConnectives(t *testing.T) {
	v := view(t, `{"score": 70, "count": 3}`)

	cases := []struct {
		cond string
		want bool
	}{
		{"score > 60 && count > 2", true},
		{"score > 80 && count > 2", false},
		{"score > 80 || count > 2", true},
		{"score > 80 || count > 5", false},
		{"(score > 80 || count > 2) && score < 100", true},
		{"score > 60 && count > 2 || score > 1000", true},
	}
	for _, tc := range cases {
		got, err := evalCondition(tc.cond, v)
		require.NoError(t, err, tc.cond)
		assert.Equal(t, tc.want, got, tc.cond)
	}
}

func TestEvalConditionPaths(t *testing.T) {
	v := view(t, `{
		"collector": {"score": 92, "items": [1, 2, 3], "summary": "all good"},
		"content": "hello"
	}`)

	cases := []struct {
		cond string
		want bool
	}{
		{"collector.score > 90", true},
		{"collector.items.length == 3", true},
		{"collector.summary.length > 5", true},
		{"content.length == 5", true},
		{"collector.missing == 1", false},
	}
	for _, tc := range cases {
		got, err := evalCondition(tc.cond, v)
		require.NoError(t, err, tc.cond)
		assert.Equal(t, tc.want, got, tc.cond)
	}
}

func TestEvalConditionNullNeverSatisfies(t *testing.T) {
	v := view(t, `{"present": 1}`)

	for _, cond := range []string{
		"absent > 0",
		"absent < 0",
		"absent == 0",
		"absent != 0",
		"absent == absent",
		"present.deep.path > 1",
	} {
		got, err := evalCondition(cond, v)
		require.NoError(t, err, cond)
		assert.False(t, got, cond)
	}
}

func TestEvalConditionErrors(t *testing.T) {
	v := view(t, `{"score": 70, "name": "api"}`)

	for _, cond := range []string{
		"score >",
		"> 80",
		"score > 80 &&",
		"(score > 80",
		"score & 1",
		"score = 70",
		"score",
		"score > 80 extra",
		"name < score",
		"score > 80 && score",
		"score > 60 || score",
	} {
		_, err := evalCondition(cond, v)
		assert.Error(t, err, cond)
	}
}
