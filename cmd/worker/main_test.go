package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ai4all/worker/internal/backend"
	"github.com/ai4all/worker/internal/config"
)

func TestRegisterConfiguredBackendsIncludesMockAndCPU(t *testing.T) {
	cfg := config.Default()
	registry := backend.NewRegistry()
	registerConfiguredBackends(registry, cfg)

	names := backendNames(registry)
	assert.Contains(t, names, "mock")
	assert.Contains(t, names, "cpu")
}

func TestRegisterConfiguredBackendsAddsHTTPAPIFromSettings(t *testing.T) {
	cfg := config.Default()
	raw, _ := json.Marshal(map[string]string{"base_url": "http://example.invalid", "api_key": "k"})
	cfg.Backends.Settings["openai"] = raw

	registry := backend.NewRegistry()
	registerConfiguredBackends(registry, cfg)

	names := backendNames(registry)
	assert.Contains(t, names, "openai")
}
