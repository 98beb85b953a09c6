// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

func TestSetLogLevels(t *testing.T) {
	SetLogLevels("debug")
	for _, id := range SupportedSubsystems() {
		require.Equal(t, btclog.LevelDebug, SubsystemLoggers[id].Level(), id)
	}

	SetLogLevel("TXMP", "warn")
	require.Equal(t, btclog.LevelWarn, TxmpLog.Level())

	// Unknown subsystems are ignored.
	SetLogLevel("NOPE", "trace")

	require.True(t, ValidLogLevel("critical"))
	require.False(t, ValidLogLevel("loud"))
	require.Equal(t, []string{"FEES", "INDX", "SIMU", "TXMP"},
		SupportedSubsystems())
	require.Equal(t, "entry", PickNoun(1, "entry", "entries"))
	require.Equal(t, "entries", PickNoun(2, "entry", "entries"))
}

func TestInitLogRotator(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "poolsim.log")
	require.NoError(t, InitLogRotator(logFile))
	require.NotNil(t, LogRotator)

	SimuLog.SetLevel(btclog.LevelInfo)
	SimuLog.Info("rotated")
	Close()
	require.Nil(t, LogRotator)

	_, err := os.Stat(filepath.Dir(logFile))
	require.NoError(t, err)

	// Closing twice is harmless.
	Close()
}
