package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFencedJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fence no lang", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounding prose", `Here you go: {"a": 1} hope that helps`, `{"a": 1}`},
		{"no object", "no json here", ""},
		{"invalid json", `{"a": `, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := fencedJSON(tc.in)
			if tc.want == "" {
				assert.Nil(t, got)
				return
			}
			require.True(t, json.Valid(got))
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

func TestGenerateStructured_RequiresSchemaName(t *testing.T) {
	c := NewClient(Config{APIKey: "test", Model: "claude-sonnet-4-5-20250929"})
	_, err := c.GenerateStructured(context.Background(), StructuredRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema name")
}

func TestStructuredResponse_Decode(t *testing.T) {
	resp := &StructuredResponse{JSON: json.RawMessage(`{"tables": [{"name": "orders"}]}`)}

	var out struct {
		Tables []struct {
			Name string `json:"name"`
		} `json:"tables"`
	}
	require.NoError(t, resp.Decode(&out))
	require.Len(t, out.Tables, 1)
	assert.Equal(t, "orders", out.Tables[0].Name)
}
