package main

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "AGENTDASH_CLI"

type Config struct {
	ServerURL string `envconfig:"SERVER_URL" default:"http://localhost:3100"`
	APIKey    string `envconfig:"API_KEY"`
}

func NewConfig() (*Config, error) {
	c := &Config{}
	if err := envconfig.Process(envPrefix, c); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	return c, nil
}
