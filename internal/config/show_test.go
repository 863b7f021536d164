package config

import (
	"bytes"
	"errors"
	"testing"

	gotoml "github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective_RoundTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Host = "api.example.com"
	cfg.Source.Collections = []string{"battery", "gps"}

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(cfg, "/etc/aware-sync/config.toml", &buf))

	out := buf.String()
	assert.Contains(t, out, "# file: /etc/aware-sync/config.toml")
	assert.Contains(t, out, "[server]")
	assert.Contains(t, out, "[sync]")
	assert.Contains(t, out, "batch_size = 1000")

	var back Config
	require.NoError(t, gotoml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, *cfg, back)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRenderEffective_WriteError(t *testing.T) {
	err := RenderEffective(DefaultConfig(), "x", failWriter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
