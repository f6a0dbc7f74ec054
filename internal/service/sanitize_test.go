package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRawOutput = `show full-configuration
#config-version=FGT60E-6.4.5-FW-build1828-210217:opmode=0:vdom=0
config system global
    set admin-scp enable
    set hostname "fw1"
end
--More--
config system interface
    edit "port1"
        set ip 10.0.0.1 255.255.255.0
    next
end
Handling pagination...
Downloaded: 5,000 bytes
fw1 # `

func TestCleanConfigOutputDropsLeadingNoise(t *testing.T) {
	raw := "Welcome to FortiGate\nlast login banner\n" + sampleRawOutput
	cleaned := CleanConfigOutput(raw)

	require.True(t, strings.HasPrefix(cleaned, "#config-version="))
	assert.NotContains(t, cleaned, "Welcome to FortiGate")
	assert.NotContains(t, cleaned, "show full-configuration")
}

func TestCleanConfigOutputRemovesArtifacts(t *testing.T) {
	cleaned := CleanConfigOutput(sampleRawOutput)

	assert.NotContains(t, cleaned, "--More--")
	assert.NotContains(t, cleaned, "Handling pagination...")
	assert.NotContains(t, cleaned, "Downloaded:")
	assert.NotContains(t, cleaned, "fw1 # ")
	assert.Contains(t, cleaned, `set hostname "fw1"`)
	assert.Contains(t, cleaned, `set ip 10.0.0.1 255.255.255.0`)
}

func TestCleanConfigOutputKeepsBodyLinesVerbatim(t *testing.T) {
	cleaned := CleanConfigOutput(sampleRawOutput)

	// 正文缩进必须原样保留
	assert.Contains(t, cleaned, "    set admin-scp enable")
	// 尾部不留空行或提示符
	assert.False(t, strings.HasSuffix(cleaned, "\n"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(cleaned), "end"))
}

func TestCleanConfigOutputIdempotent(t *testing.T) {
	once := CleanConfigOutput(sampleRawOutput)
	twice := CleanConfigOutput(once)

	assert.Equal(t, once, twice)
}

func TestCleanConfigOutputNoConfigHeader(t *testing.T) {
	cleaned := CleanConfigOutput("Unknown command.\nfw1 # ")
	assert.Equal(t, "", cleaned)
}

func TestCleanConfigOutputStartsAtConfigBlock(t *testing.T) {
	raw := "noise line\nconfig firewall policy\n    edit 1\n    next\nend"
	cleaned := CleanConfigOutput(raw)

	require.True(t, strings.HasPrefix(cleaned, "config firewall policy"))
	assert.NotContains(t, cleaned, "noise line")
}

const sampleStatusOutput = `get system status
Version: FortiGate-60E v6.4.5,build1828,210217 (GA)
Serial-Number: FGT60E0000000001
Hostname: fw1
Operation Mode: NAT
fw1 # `

func TestParseSystemInfo(t *testing.T) {
	info := ParseSystemInfo(sampleStatusOutput)

	assert.Equal(t, "FortiGate-60E v6.4.5,build1828,210217 (GA)", info["version"])
	assert.Equal(t, "FGT60E0000000001", info["serial"])
	assert.Equal(t, "fw1", info["hostname"])
}

func TestParseSystemInfoMissingFields(t *testing.T) {
	info := ParseSystemInfo("Operation Mode: NAT\n")

	assert.Empty(t, info["version"])
	assert.Empty(t, info["serial"])
	assert.Empty(t, info["hostname"])
}

func TestValueAfterColon(t *testing.T) {
	assert.Equal(t, "fw1", valueAfterColon("Hostname: fw1"))
	assert.Equal(t, "a:b", valueAfterColon("key: a:b"))
	assert.Equal(t, "", valueAfterColon("no separator"))
}
