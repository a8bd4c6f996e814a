// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"github.com/rs/zerolog"
)

// As a library this package stays silent unless the caller provides a
// logger. Loggers flow from the Manager down to sessions and connections,
// each level tagging its own context fields.

// nopLogger is the default when no logger is configured.
func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// moduleLogger derives a sub-logger tagged with a module name.
func moduleLogger(base zerolog.Logger, module string) zerolog.Logger {
	return base.With().Str("module", module).Logger()
}

// sessionLogger derives a sub-logger tagged with a session id.
func sessionLogger(base zerolog.Logger, id SessionID) zerolog.Logger {
	return base.With().Str("session", string(id)).Logger()
}
