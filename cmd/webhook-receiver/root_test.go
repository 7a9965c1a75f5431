package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--port", "9100", "--secret", "s"}))

	port, err := cmd.Flags().GetInt("port")
	require.NoError(t, err)
	assert.Equal(t, 9100, port)

	secret, err := cmd.Flags().GetString("secret")
	require.NoError(t, err)
	assert.Equal(t, "s", secret)
	assert.True(t, cmd.Flags().Changed("secret"))
}

func TestRootCommandDefaults(t *testing.T) {
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags(nil))

	secret, _ := cmd.Flags().GetString("secret")
	assert.Equal(t, defaultSecret, secret)
	mode, _ := cmd.Flags().GetString("mode")
	assert.Equal(t, "release", mode)
}
