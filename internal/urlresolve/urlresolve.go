// Package urlresolve implements the URL Resolver (C4): given a
// stylesheet URL as reported by the browser, it finds the local file
// that produced it.
package urlresolve

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"stylesync/internal/config"
)

const nextStaticCSSMarker = "/_next/static/css/"

// Resolve implements the ordered resolution of spec.md §4.4: file://
// URLs first, then user-supplied exact-prefix mappings, then a cascade
// of built-in framework conventions, then a last-resort fallback. It
// returns the first candidate that exists on disk, except for the
// Next.js ".next/static/css" case, which intentionally returns a
// sentinel path that may not exist so the orchestrator can fall back to
// selector-based resolution (C6) instead.
func Resolve(cfg config.Config, rawURL string) (string, bool) {
	if rest, ok := trimPrefix(rawURL, "file://"); ok {
		if exists(rest) {
			return rest, true
		}
		return "", false
	}

	pathname := pathnameOf(rawURL)

	for _, m := range cfg.Mappings {
		if rest, ok := trimPrefix(pathname, m.URLPrefix); ok {
			cand := filepath.Join(m.LocalPrefix, filepath.FromSlash(rest))
			if exists(cand) {
				return cand, true
			}
		}
	}

	if idx := strings.Index(pathname, nextStaticCSSMarker); idx >= 0 {
		rest := pathname[idx+len(nextStaticCSSMarker):]
		if p, ok := resolveNextJS(cfg.ProjectRoot, rest); ok {
			return p, true
		}
		return filepath.Join(cfg.ProjectRoot, ".next", "static", "css", filepath.FromSlash(rest)), true
	}

	if rest, ok := trimPrefix(pathname, "/src/"); ok && strings.HasSuffix(rest, ".css") {
		if cand := filepath.Join(cfg.ProjectRoot, "src", filepath.FromSlash(rest)); exists(cand) {
			return cand, true
		}
	}

	if rest, ok := trimPrefix(pathname, "/assets/"); ok && strings.HasSuffix(rest, ".css") {
		for _, dir := range []string{"assets", "styles", filepath.Join("src", "assets"), filepath.Join("src", "styles"), filepath.Join("public", "assets")} {
			if cand := filepath.Join(cfg.ProjectRoot, dir, filepath.FromSlash(rest)); exists(cand) {
				return cand, true
			}
		}
	}

	for _, prefix := range []string{"/static/", "/styles/", "/css/"} {
		if rest, ok := trimPrefix(pathname, prefix); ok {
			dir := strings.Trim(prefix, "/")
			if cand := filepath.Join(cfg.ProjectRoot, dir, filepath.FromSlash(rest)); exists(cand) {
				return cand, true
			}
		}
	}

	if strings.HasSuffix(pathname, ".css") {
		if cand := filepath.Join(cfg.ProjectRoot, "public", filepath.FromSlash(strings.TrimPrefix(pathname, "/"))); exists(cand) {
			return cand, true
		}
	}

	trimmed := filepath.FromSlash(strings.TrimPrefix(pathname, "/"))
	for _, base := range []string{"", "src", "public"} {
		if cand := filepath.Join(cfg.ProjectRoot, base, trimmed); exists(cand) {
			return cand, true
		}
	}

	return "", false
}

// resolveNextJS implements the layout.css / page.css probing rules.
func resolveNextJS(root, rest string) (string, bool) {
	dir := path.Dir(rest)
	if dir == "." {
		dir = ""
	}
	base := path.Base(rest)

	switch {
	case strings.HasSuffix(base, "layout.css"):
		for _, d := range dedupe(dir, "app", "styles") {
			for _, name := range []string{"globals", "global"} {
				for _, ext := range []string{".css", ".scss"} {
					if cand := filepath.Join(root, filepath.FromSlash(d), name+ext); exists(cand) {
						return cand, true
					}
				}
			}
		}

	case strings.HasSuffix(base, "page.css"):
		for _, name := range []string{"page.module.scss", "page.module.css", "styles.module.scss", "styles.module.css"} {
			if cand := filepath.Join(root, filepath.FromSlash(dir), name); exists(cand) {
				return cand, true
			}
		}
	}
	return "", false
}

func dedupe(values ...string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// trimPrefix reports whether s has the exact prefix and returns the
// remainder.
func trimPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	return strings.TrimPrefix(s, prefix), true
}

// pathnameOf extracts the path component of rawURL, tolerating bare
// paths (no scheme/host) by returning them unchanged.
func pathnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return rawURL
	}
	return u.Path
}

func exists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
