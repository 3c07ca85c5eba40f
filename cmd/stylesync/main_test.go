package main

import (
	"testing"

	"stylesync/internal/config"
)

func TestBuildConfigParsesMappings(t *testing.T) {
	opts.DevServerBase = "http://localhost:3000"
	opts.ProjectRoot = t.TempDir()
	opts.Mapping = []string{"/assets=/src/assets", "/static=/public/static"}
	defer func() { opts.Mapping = nil }()

	cfg, err := buildConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Mappings) != 2 {
		t.Fatalf("got %d mappings, want 2", len(cfg.Mappings))
	}
	if cfg.Mappings[0].URLPrefix != "/assets" || cfg.Mappings[0].LocalPrefix != "/src/assets" {
		t.Fatalf("mapping[0] = %+v", cfg.Mappings[0])
	}
}

func TestBuildConfigRejectsMalformedMapping(t *testing.T) {
	opts.DevServerBase = "http://localhost:3000"
	opts.ProjectRoot = t.TempDir()
	opts.Mapping = []string{"no-equals-sign"}
	defer func() { opts.Mapping = nil }()

	if _, err := buildConfig(); err == nil {
		t.Fatalf("buildConfig should reject a mapping with no '='")
	}
}

func TestBuildConfigRejectsMissingProjectRoot(t *testing.T) {
	opts.DevServerBase = "http://localhost:3000"
	opts.ProjectRoot = "/definitely/does/not/exist"
	opts.Mapping = nil

	if _, err := buildConfig(); err == nil {
		t.Fatalf("buildConfig should reject a project root that doesn't exist")
	}
}

func TestProbeChromePortReturnsConfiguredPortUnchanged(t *testing.T) {
	cfg := config.Config{ChromeHost: "localhost", ChromePort: 9999}
	port, err := probeChromePort(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if port != 9999 {
		t.Fatalf("probeChromePort = %d, want 9999 (a configured port is never probed)", port)
	}
}

func TestProbeChromePortErrorsWhenNothingResponds(t *testing.T) {
	cfg := config.Config{ChromeHost: "127.0.0.1"}
	if _, err := probeChromePort(cfg); err == nil {
		t.Fatalf("probeChromePort should fail when nothing listens on any default port")
	}
}
