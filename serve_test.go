package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildService_OpensLedger(t *testing.T) {
	cfg := testConfig(t)

	svc, closeFn, err := buildService(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, svc)

	closeFn()

	assert.FileExists(t, cfg.LedgerPath())
}

func TestBuildService_BadSort(t *testing.T) {
	cfg := testConfig(t)
	cfg.Display.Sort = "sideways"

	_, _, err := buildService(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}

func TestNewHTTPClient_Timeouts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.ConnectTimeout = 7 * time.Second
	cfg.Network.DataTimeout = 45 * time.Second

	client := newHTTPClient(&cfg.Network)

	assert.Zero(t, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, transport.TLSHandshakeTimeout)
	assert.Equal(t, 45*time.Second, transport.ResponseHeaderTimeout)
}
