package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepIntervalIsOptIn(t *testing.T) {
	flag := serveCmd.Flags().Lookup("sweep-interval")
	require.NotNil(t, flag)
	assert.Equal(t, "0s", flag.DefValue)
	assert.Zero(t, sweepInterval)
}
