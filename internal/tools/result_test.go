package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultString(t *testing.T) {
	assert.Equal(t, "plain", Text("plain", ToServer).String())

	structured := Structured(map[string]any{"sources": []any{}}, ToClient)
	assert.Equal(t, `{"sources":[]}`, structured.String())
}

func TestResultClientPayload(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want any
	}{
		{
			name: "to server text stays text",
			res:  Text("[doc1]: Refunds within 30 days.\n-----\n", ToServer),
			want: "[doc1]: Refunds within 30 days.\n-----\n",
		},
		{
			name: "to server structured is serialized",
			res:  Structured(map[string]int{"n": 1}, ToServer),
			want: `{"n":1}`,
		},
		{
			name: "to client structured is the value",
			res:  Structured(map[string]any{"sources": []string{"a"}}, ToClient),
			want: map[string]any{"sources": []string{"a"}},
		},
		{
			name: "to client json text is decoded",
			res:  Text(`{"sources":["a"]}`, ToClient),
			want: map[string]any{"sources": []any{"a"}},
		},
		{
			name: "to client plain text falls back to text",
			res:  Text("no sources", ToClient),
			want: "no sources",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.ClientPayload())
		})
	}
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "to_server", ToServer.String())
	assert.Equal(t, "to_client", ToClient.String())
}
