package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyValuePairsBecomeFields(t *testing.T) {
	f := fields([]interface{}{"url", "https://example.com", "status", 200, "dangling"})
	assert.Equal(t, logrus.Fields{"url": "https://example.com", "status": 200}, f)
}

func TestJSONOutput(t *testing.T) {
	l, err := NewWithOptions(Options{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)

	var buf bytes.Buffer
	l.entry.Logger.SetOutput(&buf)

	l.With("requestId", "abc").Info("request", "statusCode", 200)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "request", line["msg"])
	assert.Equal(t, "abc", line["requestId"])
	assert.EqualValues(t, 200, line["statusCode"])
}

func TestInvalidOptions(t *testing.T) {
	_, err := NewWithOptions(Options{Format: "xml"})
	assert.Error(t, err)

	_, err = NewWithOptions(Options{Output: "file"})
	assert.Error(t, err)

	_, err = NewWithOptions(Options{Output: "syslog"})
	assert.Error(t, err)
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	l, err := NewWithOptions(Options{Output: "file", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	l.Info("written")
	assert.FileExists(t, path)
}

func TestLevelFallsBackToInfo(t *testing.T) {
	l, err := NewWithOptions(Options{Level: "loud"})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, l.entry.Logger.GetLevel())
}
