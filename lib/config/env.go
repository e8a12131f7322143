// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Environment is the process environment the binaries read.
type Environment struct {
	ConfigPath string `env:"CLASSROOM_CONFIG"`
	StateDir   string `env:"CLASSROOM_STATE_DIR"`
	LogLevel   string `env:"CLASSROOM_LOG_LEVEL"`
}

// ParseEnv loads environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
