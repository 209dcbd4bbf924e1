package intake

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepairJSON(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "valid json passes through",
			input:    `{"source":"channel","content":"hi"}`,
			expected: `{"source":"channel","content":"hi"}`,
		},
		{
			name:     "python booleans lowered",
			input:    `{"read":True,"archived":False}`,
			expected: `{"read":true,"archived":false}`,
		},
		{
			name:     "python none becomes null",
			input:    `{"file_url":None}`,
			expected: `{"file_url":null}`,
		},
		{
			name:     "trailing comma in object removed",
			input:    `{"source":"partner","content":"x",}`,
			expected: `{"source":"partner","content":"x"}`,
		},
		{
			name:     "trailing comma in array removed",
			input:    `{"name_hints":["a","b",]}`,
			expected: `{"name_hints":["a","b"]}`,
		},
		{
			name:     "trailing comma before newline and brace",
			input:    "{\"a\":1,\n}",
			expected: "{\"a\":1\n}",
		},
		{
			name:     "literals inside strings untouched",
			input:    `{"content":"True story, None of it,"}`,
			expected: `{"content":"True story, None of it,"}`,
		},
		{
			name:     "escaped quote does not end string",
			input:    `{"content":"she said \"True,\" then left,"}`,
			expected: `{"content":"she said \"True,\" then left,"}`,
		},
		{
			name:     "identifier containing literal untouched",
			input:    `{"kind":NoneType}`,
			expected: `{"kind":NoneType}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, string(RepairJSON([]byte(tc.input))))
		})
	}
}

func TestRepairJSON_OutputUnmarshals(t *testing.T) {
	raw := []byte(`{"source":"partner","content":"order ready","is_internal":True,"name_hints":["Ann",],"file_url":None,}`)

	var decoded map[string]interface{}
	err := json.Unmarshal(RepairJSON(raw), &decoded)

	assert.NoError(t, err)
	assert.Equal(t, true, decoded["is_internal"])
	assert.Nil(t, decoded["file_url"])
}
