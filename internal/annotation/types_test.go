package annotation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldValueUnmarshal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want FieldValue
	}{
		{"string", `"hello"`, Scalar("hello")},
		{"null", `null`, FieldValue{}},
		{"number", `3`, Scalar("3")},
		{"bool", `true`, Scalar("true")},
		{"array", `["a","b"]`, List("a", "b")},
		{"empty array", `[]`, List()},
		{"mixed array", `["a",1,null]`, List("a", "1", "")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got FieldValue
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFieldValueUnmarshalInvalid(t *testing.T) {
	t.Parallel()
	var got FieldValue
	require.Error(t, json.Unmarshal([]byte(`{`), &got))
}
