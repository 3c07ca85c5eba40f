// Package selector implements the Selector Resolver (C6): it recovers
// the authored selector and source file behind a CSS-Modules hashed
// class name, e.g. ".MenuGroup_container__abc123" -> ".container" in
// "MenuGroup.module.scss".
package selector

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// pattern is one of the ordered CSS-Modules naming conventions this
// resolver recognizes.
type pattern struct {
	re *regexp.Regexp
}

// patterns is tried in order; the first match wins. Every pattern
// requires <Comp> to start with a capital letter, per spec.md §4.6.
var patterns = []pattern{
	{regexp.MustCompile(`^\.([A-Z][A-Za-z0-9]*)-module_([A-Za-z0-9]+)__[A-Za-z0-9]+$`)},
	{regexp.MustCompile(`^\.(?:[a-z0-9]+_)+([A-Z][A-Za-z0-9]*)-module_([A-Za-z0-9]+)__[A-Za-z0-9]+$`)},
	{regexp.MustCompile(`^\.(?:[a-z0-9]+-)+([A-Z][A-Za-z0-9]*)-module__([A-Za-z0-9]+)--[A-Za-z0-9]+$`)},
	{regexp.MustCompile(`^\.(?:[a-z0-9]+_)+([A-Z][A-Za-z0-9]*)_([A-Za-z0-9]+)__[A-Za-z0-9]+$`)},
	{regexp.MustCompile(`^\.([A-Z][A-Za-z0-9]*)_([A-Za-z0-9]+)__[A-Za-z0-9]+$`)},
}

var skipDirs = map[string]bool{
	"node_modules": true,
	".next":        true,
	".git":         true,
	"dist":         true,
	"build":        true,
}

const maxDepth = 10

// Match is a recovered authored selector and the file it lives in.
type Match struct {
	File     string
	Selector string
}

// Cache resolves compiled selectors to their authored source, memoizing
// both the selector-level result and each candidate file's content for
// the lifetime of the process.
type Cache struct {
	mu         sync.Mutex
	selectors  map[string]*Match
	fileCache  map[string]string
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{
		selectors: make(map[string]*Match),
		fileCache: make(map[string]string),
	}
}

// Resolve recognizes compiledSelector against the ordered CSS-Modules
// patterns, searches projectRoot for the matching "<Comp>.module.scss"
// or "<Comp>.module.css" file, and greps it for the recovered selector's
// declaration. Only the first whitespace-separated token of
// compiledSelector is considered.
func (c *Cache) Resolve(projectRoot, compiledSelector string) (Match, bool) {
	token := firstToken(compiledSelector)

	c.mu.Lock()
	if m, ok := c.selectors[token]; ok {
		c.mu.Unlock()
		if m == nil {
			return Match{}, false
		}
		return *m, true
	}
	c.mu.Unlock()

	comp, name, ok := recognize(token)
	if !ok {
		c.store(token, nil)
		return Match{}, false
	}

	candidates := findModuleFiles(projectRoot, comp)
	for _, file := range candidates {
		content, err := c.readFile(file)
		if err != nil {
			continue
		}
		if matchesSelector(content, name) {
			m := &Match{File: file, Selector: "." + name}
			c.store(token, m)
			return *m, true
		}
	}
	c.store(token, nil)
	return Match{}, false
}

func (c *Cache) store(token string, m *Match) {
	c.mu.Lock()
	c.selectors[token] = m
	c.mu.Unlock()
}

func (c *Cache) readFile(path string) (string, error) {
	c.mu.Lock()
	if content, ok := c.fileCache[path]; ok {
		c.mu.Unlock()
		return content, nil
	}
	c.mu.Unlock()

	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("selector: reading %s: %w", path, err)
	}
	content := string(b)

	c.mu.Lock()
	c.fileCache[path] = content
	c.mu.Unlock()
	return content, nil
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func recognize(token string) (comp, name string, ok bool) {
	for _, p := range patterns {
		if m := p.re.FindStringSubmatch(token); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", false
}

var moduleFileRe = regexp.MustCompile(`^(.+)\.module\.(scss|css)$`)

// findModuleFiles breadth-first searches projectRoot (skipping
// skipDirs, to maxDepth) for every "*.module.scss"/"*.module.css" file,
// and ranks candidates whose basename matches comp case-insensitively
// ahead of the rest, preserving discovery order within each rank.
func findModuleFiles(projectRoot, comp string) []string {
	type queued struct {
		dir   string
		depth int
	}
	queue := []queued{{projectRoot, 0}}

	var exact, other []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(cur.dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				if skipDirs[name] || cur.depth >= maxDepth {
					continue
				}
				queue = append(queue, queued{filepath.Join(cur.dir, name), cur.depth + 1})
				continue
			}
			m := moduleFileRe.FindStringSubmatch(name)
			if m == nil {
				continue
			}
			full := filepath.Join(cur.dir, name)
			if strings.EqualFold(m[1], comp) {
				exact = append(exact, full)
			} else {
				other = append(other, full)
			}
		}
	}
	return append(exact, other...)
}

// matchesSelector greps content for any of the authored forms the
// compiled name could have come from.
func matchesSelector(content, name string) bool {
	escaped := regexp.QuoteMeta(name)
	re := regexp.MustCompile(`(?m)(?:&?\.` + escaped + `\s*\{|\.` + escaped + `\s*,|\.` + escaped + `$)`)
	return re.MatchString(content)
}
