package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmdDefaultFlags(t *testing.T) {
	root := newRootCmd()
	assert.Equal(t, "bbcore", root.Use)

	flag := root.PersistentFlags().Lookup("transfer-base-url")
	require.NotNil(t, flag)
	assert.Equal(t, "http://localhost:8080", flag.DefValue)

	flag = root.PersistentFlags().Lookup("timeout")
	require.NotNil(t, flag)
	assert.Equal(t, "90", flag.DefValue)
}

func TestNewRootCmdParsesOverrides(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{
		"--transfer-base-url", "https://example.com",
		"--interface", "eth1",
		"--timeout", "30",
		"--help",
	})
	// --help short-circuits RunE, letting us assert flag parsing without
	// actually launching a measurement run.
	require.NoError(t, root.Execute())
	assert.Equal(t, "https://example.com", transferBaseURL)
	assert.Equal(t, "eth1", ifaceName)
	assert.Equal(t, 30, timeoutSecs)
}

func TestNewRootCmdRegistersProbeSubcommand(t *testing.T) {
	root := newRootCmd()
	probeCmd, _, err := root.Find([]string{"probe"})
	require.NoError(t, err)
	assert.Equal(t, "probe", probeCmd.Name())
}
