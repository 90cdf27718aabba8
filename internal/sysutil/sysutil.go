// Package sysutil holds small process-level helpers shared by the server
// entrypoint and the config layer.
package sysutil

import (
	"strings"

	"github.com/rs/zerolog"
)

var truthy = map[string]struct{}{
	"1": {}, "true": {}, "yes": {}, "y": {}, "on": {},
}

// SetLogLevel applies lvl to the global zerolog level. "warning" is accepted
// as an alias for warn; empty or unrecognized values fall back to info.
func SetLogLevel(lvl string) {
	level := zerolog.InfoLevel
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	case "fatal":
		level = zerolog.FatalLevel
	case "panic":
		level = zerolog.PanicLevel
	}
	zerolog.SetGlobalLevel(level)
}

// IsTruthy reports whether an env-style flag value means enabled:
// 1/true/yes/y/on, case-insensitive.
func IsTruthy(v string) bool {
	_, ok := truthy[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

// FirstNonEmpty returns the first value that is not blank, verbatim.
// All-blank input yields "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
