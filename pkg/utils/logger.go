package utils

import "go.uber.org/zap"

// NewLogger returns the zap logger used across Kotae. Debug mode gives the
// human-readable development config at debug level; otherwise JSON at info.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
