package de

import (
	"errors"
	"math"
	"testing"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.MaxGenerations = 10
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero dimensions", func(c *Config) { c.Dimensions = 0 }, "Dimensions"},
		{"population of three", func(c *Config) { c.PopulationSize = 3 }, "PopulationSize"},
		{"negative weight", func(c *Config) { c.Weight = -0.1 }, "Weight"},
		{"weight above one", func(c *Config) { c.Weight = 1.5 }, "Weight"},
		{"NaN weight", func(c *Config) { c.Weight = math.NaN() }, "Weight"},
		{"crossover above one", func(c *Config) { c.Crossover = 1.01 }, "Crossover"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "Workers"},
		{"no generations", func(c *Config) { c.MaxGenerations = 0 }, "MaxGenerations"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected configuration error")
			}
			if !errors.Is(err, ErrConfig) {
				t.Errorf("Expected errors.Is(err, ErrConfig), got %v", err)
			}
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Field != tt.field {
				t.Errorf("Expected field %s, got %v", tt.field, err)
			}
		})
	}
}

func TestConfigValidateAcceptsBoundaries(t *testing.T) {
	cfg := validConfig()
	cfg.PopulationSize = MinPopulation
	cfg.Weight = 0
	cfg.Crossover = 1

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected boundary values to be accepted, got %v", err)
	}
}

func TestValidateObjective(t *testing.T) {
	cfg := validConfig()
	cfg.Dimensions = 3

	if err := cfg.ValidateObjective(NewObjective("any", 0, sphere)); err != nil {
		t.Errorf("Arity 0 should accept any dimension: %v", err)
	}
	if err := cfg.ValidateObjective(NewObjective("fixed", 3, sphere)); err != nil {
		t.Errorf("Matching arity rejected: %v", err)
	}
	if err := cfg.ValidateObjective(NewObjective("2d", 2, sphere)); !errors.Is(err, ErrConfig) {
		t.Errorf("Expected arity mismatch to be a configuration error, got %v", err)
	}
	if err := cfg.ValidateObjective(nil); !errors.Is(err, ErrConfig) {
		t.Errorf("Expected missing objective to be a configuration error, got %v", err)
	}
}
