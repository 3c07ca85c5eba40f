// Package sourcemap implements the Source-map Resolver (C5): it finds a
// stylesheet's original (pre-build) source, either by extracting an
// inline source map's sources[] list or by reverse-mapping a generated
// line/column back to an original position.
package sourcemap

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	gosourcemap "github.com/go-sourcemap/sourcemap"
)

// inlineMapRe matches a "/*# sourceMappingURL=data:application/json...;base64,<b64> */"
// or "//# sourceMappingURL=..." comment, in either CSS or SCSS text.
var inlineMapRe = regexp.MustCompile(`(?:/\*|//)#\s*sourceMappingURL=data:application/json(?:;charset=[^;]+)?;base64,([A-Za-z0-9+/=]+)\s*(?:\*/)?`)

// externalMapRe matches a sourceMappingURL comment that names a sibling
// file instead of carrying the map inline.
var externalMapRe = regexp.MustCompile(`(?:/\*|//)#\s*sourceMappingURL=([^\s*]+)\s*(?:\*/)?`)

var webpackHostRe = regexp.MustCompile(`^webpack://[^/]*/`)

type rawMap struct {
	Sources []string `json:"sources"`
}

// ExtractOriginalSource implements the "inline discovery" surface: it
// pulls the sources[] array out of an inline source map comment in
// cssText, strips the bundler path prefixes, anchors relative entries at
// projectRoot, and returns the first entry that exists on disk.
func ExtractOriginalSource(cssText, projectRoot string) (string, bool) {
	m := inlineMapRe.FindStringSubmatch(cssText)
	if m == nil {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return "", false
	}
	var parsed rawMap
	if err := json.Unmarshal(decoded, &parsed); err != nil {
		return "", false
	}
	for _, src := range parsed.Sources {
		clean := cleanSourcePath(src)
		if !filepath.IsAbs(clean) {
			clean = filepath.Join(projectRoot, clean)
		}
		if info, err := os.Stat(clean); err == nil && !info.IsDir() {
			return clean, true
		}
	}
	return "", false
}

// cleanSourcePath strips the webpack://<host>/, webpack-internal:///,
// "./" prefixes and any query string from a source map sources[] entry.
func cleanSourcePath(src string) string {
	if loc := webpackHostRe.FindStringIndex(src); loc != nil {
		src = src[loc[1]:]
	}
	src = strings.TrimPrefix(src, "webpack-internal:///")
	src = strings.TrimPrefix(src, "./")
	if i := strings.IndexByte(src, '?'); i >= 0 {
		src = src[:i]
	}
	return src
}

// Cache loads and memoizes decoded source maps by the generated CSS
// file's path, so repeated position look-ups don't re-parse the same
// map.
type Cache struct {
	mu        sync.Mutex
	consumers map[string]*gosourcemap.Consumer
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{consumers: make(map[string]*gosourcemap.Consumer)}
}

// OriginalPosition implements the "position reverse-map" surface: given
// the path, line (1-based) and column (0-based) of a generated CSS file,
// it returns the original source file and position. The returned source
// is resolved against cssPath's directory when the map reports a
// relative path.
func (c *Cache) OriginalPosition(cssPath string, line, col int) (source string, origLine, origCol int, ok bool) {
	consumer, err := c.load(cssPath)
	if err != nil || consumer == nil {
		return "", 0, 0, false
	}
	src, _, oLine, oCol, ok := consumer.Source(line, col)
	if !ok {
		return "", 0, 0, false
	}
	if !filepath.IsAbs(src) {
		src = filepath.Join(filepath.Dir(cssPath), src)
	}
	return src, oLine, oCol, true
}

func (c *Cache) load(cssPath string) (*gosourcemap.Consumer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if consumer, ok := c.consumers[cssPath]; ok {
		return consumer, nil
	}

	raw, err := loadMapBytes(cssPath)
	if err != nil {
		return nil, err
	}
	consumer, err := gosourcemap.Parse(cssPath, raw)
	if err != nil {
		return nil, fmt.Errorf("sourcemap: parsing map for %s: %w", cssPath, err)
	}
	c.consumers[cssPath] = consumer
	return consumer, nil
}

// loadMapBytes finds the raw JSON source map bytes for cssPath: inline
// first, then a sourceMappingURL reference to a sibling file, then a
// same-named ".map" file as a last resort.
func loadMapBytes(cssPath string) ([]byte, error) {
	text, err := os.ReadFile(cssPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", cssPath, err)
	}

	if m := inlineMapRe.FindStringSubmatch(string(text)); m != nil {
		decoded, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			return nil, fmt.Errorf("decoding inline source map: %w", err)
		}
		return decoded, nil
	}

	if m := externalMapRe.FindStringSubmatch(string(text)); m != nil {
		ref := strings.TrimSpace(m[1])
		if !strings.HasPrefix(ref, "data:") {
			p := ref
			if !filepath.IsAbs(p) {
				p = filepath.Join(filepath.Dir(cssPath), p)
			}
			if b, err := os.ReadFile(p); err == nil {
				return b, nil
			}
		}
	}

	if b, err := os.ReadFile(cssPath + ".map"); err == nil {
		return b, nil
	}
	return nil, fmt.Errorf("no source map found for %s", cssPath)
}

// Close releases every cached consumer. Safe to call once at shutdown.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers = make(map[string]*gosourcemap.Consumer)
}
