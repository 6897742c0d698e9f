package cmd

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/q-controller/nea-supervisor/src/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequest(t *testing.T) {
	tests := []struct {
		line []string
		path string
		body string
	}{
		{[]string{"info"}, protocol.PathInfoGet, ``},
		{[]string{"accept", "+--+-"}, protocol.PathProvisionPattern, `{"action":"accept","pattern":"+--+-"}`},
		{[]string{"buzz", "p1", "negative"}, protocol.PathBuzzRun, `{"pid":"p1","buzz":false}`},
		{[]string{"roaming-start", "7"}, protocol.PathRoamingAuthRun, `{"tid":7}`},
		{[]string{"delete-key", "p1", "cdf,totp"}, protocol.PathKeyDelete, ``},
		{[]string{"raw", `{"path":"random/run",`, `"request":{"pid":"p2"}}`}, protocol.PathRandomRun, `{"pid":"p2"}`},
	}

	for _, tt := range tests {
		t.Run(tt.line[0], func(t *testing.T) {
			req, err := buildRequest(tt.line[0], tt.line[1:])
			require.NoError(t, err)
			assert.Equal(t, tt.path, req.Path)
			if tt.body == "" {
				return
			}
			data, err := json.Marshal(req)
			require.NoError(t, err)
			var wire struct {
				Request json.RawMessage `json:"request"`
			}
			require.NoError(t, json.Unmarshal(data, &wire))
			assert.JSONEq(t, tt.body, string(wire.Request))
		})
	}
}

func TestBuildRequestErrors(t *testing.T) {
	_, err := buildRequest("nope", nil)
	assert.ErrorContains(t, err, "unknown command")

	_, err = buildRequest("random", nil)
	assert.ErrorContains(t, err, "usage: random <pid>")

	_, err = buildRequest("roaming-start", []string{"seven"})
	assert.Error(t, err)

	_, err = buildRequest("delete-key", []string{"p1", "bogus"})
	assert.ErrorContains(t, err, "unknown key type")

	_, err = buildRequest("sign-setup", []string{"p1", "RSA"})
	assert.Error(t, err)
}

func TestRequestUsagesCoverEveryCommand(t *testing.T) {
	assert.Len(t, requestUsages(), len(requestCommands))
}

func TestNewLogger(t *testing.T) {
	var out bytes.Buffer
	var level slog.LevelVar
	logger, err := newLogger(&out, "warn", "json", &level)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), `"msg":"shown"`)
	assert.Equal(t, slog.LevelWarn, level.Level())

	_, err = newLogger(&out, "loud", "text", nil)
	assert.Error(t, err)
	_, err = newLogger(&out, "info", "xml", nil)
	assert.Error(t, err)
}
