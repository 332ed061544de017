package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type testConfig struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

func (c *testConfig) Validate() error {
	if c.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_KeepsDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("CONFIG_TEST_TOKEN", "s3cret")
	path := writeFile(t, "port: 9090\ntoken: ${CONFIG_TEST_TOKEN}\n")

	cfg := &testConfig{Name: "default", Port: 8080}
	if err := Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "default" {
		t.Errorf("Name = %q, want default", cfg.Name)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Token != "s3cret" {
		t.Errorf("Token = %q, want s3cret", cfg.Token)
	}
}

func TestLoad_ValidationError(t *testing.T) {
	path := writeFile(t, "port: 0\n")
	err := Load(path, &testConfig{})
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &testConfig{Port: 1})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestParse_Malformed(t *testing.T) {
	err := Parse([]byte("port: [unclosed"), &testConfig{})
	if err == nil || !strings.Contains(err.Error(), "config: parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoadOptional_MissingFileUsesDefaults(t *testing.T) {
	cfg := &testConfig{Port: 8080}
	if err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), cfg); err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}

	if err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &testConfig{}); err == nil {
		t.Fatal("expected defaults to be validated")
	}
}
