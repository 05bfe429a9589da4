// Package env reads flag defaults from the environment.
package env

import (
	"os"
	"strconv"
	"time"
)

// Duration returns parsed time.Duration value of environment variable
func Duration(name string, defvalue time.Duration) time.Duration {
	if envVar, ok := os.LookupEnv(name); ok {
		if value, err := time.ParseDuration(envVar); err == nil {
			return value
		}
	}
	return defvalue
}

// Bool returns parsed bool value of environment variable
func Bool(name string, defvalue bool) bool {
	if envVar, ok := os.LookupEnv(name); ok {
		if value, err := strconv.ParseBool(envVar); err == nil {
			return value
		}
	}
	return defvalue
}
