package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netlens/netlens/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "app.db")
	return &cfg
}

func TestNewAndClose(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)

	assert.False(t, a.Capturing())
	assert.Nil(t, a.Session())
	require.NoError(t, a.Close())
}

func TestNewRejectsBadRules(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.AnomalyRules = []string{`length >`}

	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestStartCaptureWithoutInterface(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Interface = ""

	a, err := New(cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.StartCapture("", "", "")
	assert.ErrorContains(t, err, "no capture interface")
}

func TestStopWithoutCapture(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.StopCapture()
	assert.ErrorIs(t, err, ErrNoCapture)
}
