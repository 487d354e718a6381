package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactEmail(t *testing.T) {
	tests := map[string]string{
		"john.doe@example.com":   "jo***@example.com",
		"ab@example.com":         "***@example.com",
		"not-an-email":           "***@***",
		"Jane LP <jane@fund.vc>": "ja***@fund.vc",
	}
	for in, want := range tests {
		assert.Equal(t, want, RedactEmail(in), in)
	}
}

func TestLogRedactsRecipientFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, DEBUG, true)

	l.Log(INFO, "dispatched", "recipient", "partner@fund.vc", "note", "cc ceo@fund.vc", "count", 3)

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "dispatched", entry["msg"])
	assert.Equal(t, "pa***@fund.vc", entry["recipient"])
	assert.Equal(t, "cc ce***@fund.vc", entry["note"])
	assert.Equal(t, "3", entry["count"])
}

func TestLogLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WARN, false)

	l.Log(INFO, "skipped")
	l.Log(ERROR, "kept", "email", "partner@fund.vc")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"kept"`)
	assert.Contains(t, lines[0], "partner@fund.vc")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" Warning "))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}
