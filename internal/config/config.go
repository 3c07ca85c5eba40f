// Package config defines the process-level configuration the agent's core
// components are built from. Parsing it from flags or environment variables
// is the CLI's job (cmd/stylesync); this package only describes the shape
// and fills in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultChromePorts is the ordered list of debug ports probed when
// ChromePort is left unset.
var DefaultChromePorts = []int{9222, 9333, 9229, 9230}

// Mapping is a single user-supplied URL-prefix to local-prefix rule,
// consulted before the URL resolver's built-in rules.
type Mapping struct {
	URLPrefix   string
	LocalPrefix string
}

// Config holds everything the agent's core needs to run. It corresponds to
// the "Process configuration" table in the specification.
type Config struct {
	// DevServerBase is the URL prefix used both to find the browser tab and
	// to anchor the URL resolver. Required.
	DevServerBase string

	// ChromeHost and ChromePort address the CDP endpoint. ChromePort of 0
	// means "probe DefaultChromePorts in order".
	ChromeHost string
	ChromePort int

	// ProjectRoot anchors all resolvers. Defaults to the current directory.
	ProjectRoot string

	// Mappings are consulted before the URL resolver's built-in rules.
	Mappings []Mapping

	// LoopGuardTTL is the window during which a registered write's echo is
	// suppressed. Defaults to 2s.
	LoopGuardTTL time.Duration

	// Verbose enables diagnostic log lines.
	Verbose bool
}

// WithDefaults returns a copy of cfg with zero-valued fields replaced by
// their documented defaults. It does not validate DevServerBase, which is
// the one required field callers must supply themselves.
func (cfg Config) WithDefaults() (Config, error) {
	out := cfg

	if out.ChromeHost == "" {
		out.ChromeHost = "localhost"
	}

	if out.ProjectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("failed to resolve default project root: %w", err)
		}
		out.ProjectRoot = wd
	}
	abs, err := filepath.Abs(out.ProjectRoot)
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve project root %q: %w", out.ProjectRoot, err)
	}
	out.ProjectRoot = abs

	if out.LoopGuardTTL == 0 {
		out.LoopGuardTTL = 2 * time.Second
	}

	return out, nil
}

// CandidatePorts returns the ports to probe for a CDP endpoint, in order.
func (cfg Config) CandidatePorts() []int {
	if cfg.ChromePort != 0 {
		return []int{cfg.ChromePort}
	}
	return DefaultChromePorts
}
