package tcms

import tlog "github.com/unkn0wn-root/tcms/log"

// Fields is a minimal structured field map for logs.
type Fields = tlog.Fields

// Logger is a tiny leveled logger. See the log/zap, log/logrus and log/slog
// adapters. If Logger is nil in Options, logging is disabled.
type Logger = tlog.Logger

type NopLogger = tlog.Nop
