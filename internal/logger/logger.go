// Package logger provides internal logging utilities for retrievesync.
package logger

import (
	"github.com/willibrandon/mtlog"
	"github.com/willibrandon/mtlog/core"
)

// Log is the internal logger for retrievesync.
var Log core.Logger

func init() {
	Log = mtlog.New(
		mtlog.WithConsole(),
		mtlog.WithMinimumLevel(core.InformationLevel),
	)
}
