package main

import (
	"os"

	"github.com/mhollas/sqlward/internal/configure"
)

func runConfigure() error {
	configPath := os.Getenv("SQLWARD_CONFIG_PATH")
	if configPath == "" {
		configPath = ".sqlward/config.json"
	}
	return configure.Run(configPath)
}
