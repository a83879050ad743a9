package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impact-eintr/ipstack/tcpip"
)

const sampleConfig = `
log:
  level: debug
capture:
  file: /tmp/stackd.pcap
interfaces:
  - name: tap0
    mode: tap
    address: 192.168.1.1/24
    gateway: 192.168.1.254
  - name: tun0
    mode: tun
    mtu: 1400
    address: 10.0.0.1/16
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "stackd.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/stackd.pcap", cfg.Capture.File)
	require.Len(t, cfg.Interfaces, 2)

	assert.Equal(t, "tap0", cfg.Interfaces[0].Name)
	assert.Equal(t, "tap", cfg.Interfaces[0].Mode)
	// 缺省MTU
	assert.Equal(t, uint32(1500), cfg.Interfaces[0].MTU)
	assert.Equal(t, "192.168.1.254", cfg.Interfaces[0].Gateway)

	assert.Equal(t, uint32(1400), cfg.Interfaces[1].MTU)
	assert.Empty(t, cfg.Interfaces[1].Gateway)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := loadConfig(writeConfig(t, "log:\n  level: info\n"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, `
interfaces:
  - name: x0
    mode: bridge
    address: 10.0.0.1/8
`))
	assert.Error(t, err)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestParseCIDR(t *testing.T) {
	a, prefix, err := parseCIDR("192.0.2.10/24")
	require.NoError(t, err)
	assert.Equal(t, tcpip.Address("\xc0\x00\x02\x0a"), a)
	assert.Equal(t, uint8(24), prefix)

	_, _, err = parseCIDR("not-an-address")
	assert.Error(t, err)

	_, _, err = parseCIDR("2001:db8::1/64")
	assert.Error(t, err)
}

func TestParseIP(t *testing.T) {
	a, err := parseIP("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, tcpip.Address("\x0a\x00\x00\x01"), a)

	_, err = parseIP("nope")
	assert.Error(t, err)
}
