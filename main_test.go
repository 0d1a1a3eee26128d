package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePort(t *testing.T) {
	port, err := parsePort("3001")
	require.NoError(t, err)
	assert.Equal(t, 3001, port)

	for _, bad := range []string{"", "abc", "-1", "0", "70000"} {
		_, err := parsePort(bad)
		assert.Error(t, err, "port %q should be rejected", bad)
	}
}

func TestMDNSTXTInfo(t *testing.T) {
	info := mdnsTXTInfo("1.0.0")
	require.Len(t, info, 2)
	assert.Equal(t, "version=1.0.0", info[0])
	assert.Contains(t, info[1], "advertised=")
}
