package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"wrapped in prose", "Here is the review:\n{\"a\":1}\nHope that helps!", `{"a":1}`, true},
		{"markdown fence", "```json\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`, true},
		{"braces inside strings", `{"text":"closing } brace and \" quote"}`, `{"text":"closing } brace and \" quote"}`, true},
		{"no object", "just prose", "", false},
		{"unbalanced", `{"a":1`, "", false},
	}
	for _, tc := range cases {
		got, ok := extractJSON(tc.in)
		if ok != tc.ok {
			t.Fatalf("%s: ok = %v, want %v", tc.name, ok, tc.ok)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestExtractReview(t *testing.T) {
	text := `The plan looks sound. Structured review:
{"assessment":"balanced month","trades":[{"ticker":"AAPL","amount":600,"sleeve":"core","reason":"core allocation by weight"}],"total_investment":1000,"unused_funds":0}
Let me know if you want detail.`

	review, ok := extractReview(text)
	require.True(t, ok)
	assert.Equal(t, "balanced month", review.Assessment)
	require.Len(t, review.Trades, 1)
	assert.Equal(t, "AAPL", review.Trades[0].Ticker)
	assert.Equal(t, 1000.0, review.TotalInvestment)

	_, ok = extractReview("prose with {broken json")
	assert.False(t, ok)
}
