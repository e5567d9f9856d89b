// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "folonet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const validYAML = `
services:
  - name: web
    local_endpoint: "10.0.0.100:8080"
    servers:
      - "10.0.0.200:80"
    is_tcp: true
interfaces:
  - name: eth0
    local_ips:
      - "10.0.0.2"
ip_mac_list:
  - ip: "10.0.0.200"
    mac: "aa:bb:cc:dd:ee:ff"
`

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, validYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Services, 1)
	assert.Equal(t, "web", cfg.Services[0].Name)
	assert.True(t, cfg.Services[0].IsTCP)
}

func TestLoadRejectsDuplicateLocalEndpoint(t *testing.T) {
	path := writeTempConfig(t, `
services:
  - name: a
    local_endpoint: "10.0.0.100:8080"
    servers: ["10.0.0.200:80"]
    is_tcp: true
  - name: b
    local_endpoint: "10.0.0.100:8080"
    servers: ["10.0.0.201:80"]
    is_tcp: true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate local endpoint")
}

func TestLoadRejectsMalformedEndpoint(t *testing.T) {
	path := writeTempConfig(t, `
services:
  - name: a
    local_endpoint: "not-an-endpoint"
    servers: ["10.0.0.200:80"]
    is_tcp: true
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsZeroServers(t *testing.T) {
	path := writeTempConfig(t, `
services:
  - name: a
    local_endpoint: "10.0.0.100:8080"
    servers: []
    is_tcp: true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero servers")
}

func TestLoadRejectsMalformedMAC(t *testing.T) {
	path := writeTempConfig(t, `
services:
  - name: a
    local_endpoint: "10.0.0.100:8080"
    servers: ["10.0.0.200:80"]
    is_tcp: true
ip_mac_list:
  - ip: "10.0.0.200"
    mac: "not-a-mac"
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestResolveProducesPackedEndpoints(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	resolved, err := cfg.Resolve()
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, uint16(8080), resolved[0].LocalEndpoint.Port)
	require.Len(t, resolved[0].Servers, 1)
	assert.Equal(t, uint16(80), resolved[0].Servers[0].Port)
}

func TestResolveIPMACList(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	entries, err := cfg.ResolveIPMACList()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", entries[0].MAC.String())
}
