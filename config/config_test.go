package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	conf, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", conf.HttpAddr)
	assert.Equal(t, "2010-04-01", conf.ApiVersion)
	assert.Equal(t, time.Hour, conf.SessionExpiry)
	assert.Equal(t, "POST", conf.ClientMethod)
	assert.Equal(t, 10*time.Second, conf.WebhookTimeout)
	assert.Equal(t, "info", conf.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("VOXGATE_HTTP_ADDR", ":9090")
	t.Setenv("VOXGATE_CLIENT_URL", "http://client.example/incoming.xml")
	t.Setenv("VOXGATE_SESSION_EXPIRY", "30m")
	t.Setenv("VOXGATE_WEBHOOK_RATE", "5")

	conf, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", conf.HttpAddr)
	assert.Equal(t, "http://client.example/incoming.xml", conf.ClientUrl)
	assert.Equal(t, 30*time.Minute, conf.SessionExpiry)
	assert.Equal(t, float64(5), conf.WebhookRate)
}
