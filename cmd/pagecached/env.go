package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type environment string

const (
	envDev  environment = "dev"
	envProd environment = "prod"
)

// envVars is the process configuration, bound from the environment
// (prefix PAGECACHE_) after an optional .env file is loaded.
type envVars struct {
	Environment  environment `envconfig:"ENVIRONMENT" default:"dev"`
	PageSizeBits uint        `envconfig:"PAGE_SIZE_BITS" default:"13"`
	PageCapacity int         `envconfig:"PAGE_CAPACITY" default:"64"`
}

// mustLoadEnv loads a .env file if one is present (its absence is not
// an error, a fresh checkout has none) and binds envVars from the
// process environment, panicking on a malformed value: a bad config is
// a startup-time programmer/operator error, not a condition the CLI
// tries to run degraded through.
func mustLoadEnv() envVars {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		panic(fmt.Sprintf("pagecached: loading .env: %v", err))
	}

	var e envVars
	if err := envconfig.Process("pagecache", &e); err != nil {
		panic(fmt.Sprintf("pagecached: reading environment: %v", err))
	}
	return e
}
