// Package orchestrator implements the Orchestrator (C10): the agent's
// top-level lifecycle, event wiring, and the seven-step handle_change
// decision flow that ties every other component together.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"stylesync/internal/cdpsession"
	"stylesync/internal/change"
	"stylesync/internal/config"
	"stylesync/internal/differ"
	"stylesync/internal/filequeue"
	"stylesync/internal/logging"
	"stylesync/internal/loopguard"
	"stylesync/internal/patcher"
	"stylesync/internal/registry"
	"stylesync/internal/selector"
	"stylesync/internal/sourcemap"
	"stylesync/internal/urlresolve"
)

// Orchestrator wires every component together and drives the agent's
// event loop.
type Orchestrator struct {
	cfg config.Config
	log *logging.Logger

	cdp *cdpsession.Manager
	reg *registry.Registry
	fq  *filequeue.Queue
	lg  *loopguard.Guard
	sel *selector.Cache
	sm  *sourcemap.Cache

	ticker   *time.Ticker
	tickDone chan struct{}
	inFlight int32
}

// New constructs an Orchestrator from its configuration. Components are
// instantiated but no CDP connection is made yet.
func New(cfg config.Config, log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		cfg: cfg,
		log: log,
		cdp: cdpsession.New(cfg.ChromeHost, cfg.ChromePort),
		reg: registry.New(),
		fq:  filequeue.New(),
		lg:  loopguard.New(cfg.LoopGuardTTL),
		sel: selector.NewCache(),
		sm:  sourcemap.NewCache(),
	}
}

// Start runs the full lifecycle: subscribe handlers, connect, clear the
// registry, reload the page, let it settle, annotate inline sheets, and
// begin the polling loop. It blocks only long enough to get the loop
// running; the loop itself continues on a background goroutine.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.cdp.OnStylesheetAdded(o.onStylesheetAdded(ctx))
	o.cdp.OnStylesheetChanged(o.onStylesheetChanged(ctx))

	if err := o.cdp.Connect(ctx, o.cfg.DevServerBase); err != nil {
		return err
	}

	o.reg.Clear()
	if err := o.cdp.ReloadPage(ctx); err != nil {
		return fmt.Errorf("orchestrator: reload_page: %w", err)
	}

	select {
	case <-time.After(3 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	o.detectViteStylesheets(ctx)
	o.detectWebpackStylesheets()

	o.ticker = time.NewTicker(1 * time.Second)
	o.tickDone = make(chan struct{})
	go o.pollLoop(ctx)

	return nil
}

// Shutdown stops the poll timer, destroys the loop guard, drops
// source-map caches, and closes the sessions.
func (o *Orchestrator) Shutdown() {
	if o.ticker != nil {
		o.ticker.Stop()
	}
	if o.tickDone != nil {
		close(o.tickDone)
	}
	o.lg.Close()
	o.sm.Close()
	o.cdp.Close()
}

func (o *Orchestrator) onStylesheetAdded(ctx context.Context) func(cdpsession.StyleSheetHeader) {
	return func(h cdpsession.StyleSheetHeader) {
		id := registry.StylesheetID(h.StyleSheetID)
		o.reg.Register(id, registry.Header{
			SourceURL:    h.SourceURL,
			IsInline:     h.IsInline,
			SourceMapURL: h.SourceMapURL,
		})

		if _, ok := urlresolve.Resolve(o.cfg, h.SourceURL); ok {
			o.log.Trace("stylesync: mapped stylesheet %s -> %s", h.StyleSheetID, h.SourceURL)
		}

		text, err := o.cdp.GetStylesheetText(ctx, h.StyleSheetID)
		if err != nil {
			o.log.Warn("stylesync: could not fetch initial text for %s: %v", h.StyleSheetID, err)
			return
		}
		o.reg.UpdateText(id, text, time.Now())
	}
}

func (o *Orchestrator) onStylesheetChanged(ctx context.Context) func(string) {
	return func(rawID string) {
		id := registry.StylesheetID(rawID)

		sheets, err := o.cdp.GetAllFreshStylesheets(ctx, o.cfg.DevServerBase)
		if err != nil {
			o.log.Warn("stylesync: fresh fetch failed for %s: %v", rawID, err)
			return
		}
		fresh, ok := findFreshByID(sheets, rawID)
		if !ok {
			o.reg.Remove(id)
			return
		}

		o.handleChange(ctx, id, fresh.Text)
	}
}

func findFreshByID(sheets []cdpsession.FreshStylesheet, id string) (cdpsession.FreshStylesheet, bool) {
	for _, s := range sheets {
		if s.ID == id {
			return s, true
		}
	}
	return cdpsession.FreshStylesheet{}, false
}

// pollLoop gathers every tracked file-based sheet's fresh text once per
// tick, matching by content_key, and feeds mismatches to handle_change.
// An in-flight flag suppresses an overlapping tick rather than queuing it.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	for {
		select {
		case <-o.tickDone:
			return
		case <-ctx.Done():
			return
		case <-o.ticker.C:
			if !atomic.CompareAndSwapInt32(&o.inFlight, 0, 1) {
				continue
			}
			o.runPollTick(ctx)
			atomic.StoreInt32(&o.inFlight, 0)
		}
	}
}

func (o *Orchestrator) runPollTick(ctx context.Context) {
	tracked := o.reg.FileBased()
	if len(tracked) == 0 {
		return
	}

	fresh, err := o.cdp.GetAllFreshStylesheets(ctx, o.cfg.DevServerBase)
	if err != nil {
		o.log.Warn("stylesync: poll tick fresh-fetch failed: %v", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range tracked {
		rec := rec
		g.Go(func() error {
			o.reconcileOne(gctx, rec, fresh)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) reconcileOne(ctx context.Context, rec *registry.Record, fresh []cdpsession.FreshStylesheet) {
	old, hadOld := o.reg.PreviousText(rec.ID)
	key := contentKey(old)

	var match *cdpsession.FreshStylesheet
	for i := range fresh {
		if fresh[i].ContentKey == key {
			match = &fresh[i]
			break
		}
	}
	if match == nil {
		for i := range fresh {
			if hadOld && len(fresh[i].Text) == len(old) {
				match = &fresh[i]
				break
			}
		}
	}
	if match == nil {
		o.reg.Remove(rec.ID)
		return
	}

	o.handleChange(ctx, rec.ID, match.Text)
}

func contentKey(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) > 100 {
		trimmed = trimmed[:100]
	}
	return trimmed
}

// handleChange runs the seven-step decision flow: loop-guard check,
// no-op check, diff, target resolution (with CSS-module fallback),
// source-map-aware SCSS retargeting, enqueued patch, and registry
// update.
func (o *Orchestrator) handleChange(ctx context.Context, id registry.StylesheetID, newText string) {
	rec, ok := o.reg.Get(id)
	if !ok {
		return
	}

	sheetKey := "sheet:" + string(id)
	if o.lg.ShouldIgnore(sheetKey, []byte(newText)) {
		o.reg.UpdateText(id, newText, time.Now())
		return
	}

	hadOld := rec.Text != nil
	oldText := oldTextOf(rec)
	if !hadOld || oldText == newText {
		o.reg.UpdateText(id, newText, time.Now())
		return
	}

	changes, err := differ.Diff(oldText, newText)
	if err != nil {
		o.log.Warn("stylesync: diff failed for %s: %v", id, err)
		return
	}
	if len(changes) == 0 {
		o.reg.UpdateText(id, newText, time.Now())
		return
	}

	target, ok := o.resolveTarget(rec)
	if !ok || strings.Contains(filepath.ToSlash(target), "/.next/") {
		if o.patchViaCSSModules(changes) {
			return
		}
		if !ok {
			o.log.Warn("stylesync: no resolvable source for stylesheet %s", id)
			return
		}
	}

	target = o.maybeRetargetToSourceMap(target, changes)

	o.enqueuePatch(id, target, changes, newText)
}

func oldTextOf(rec *registry.Record) string {
	if rec.Text == nil {
		return ""
	}
	return *rec.Text
}

// resolveTarget follows vite_dev_id > original_source > url_resolver.
func (o *Orchestrator) resolveTarget(rec *registry.Record) (string, bool) {
	if rec.ViteDevID != nil && *rec.ViteDevID != "" {
		return *rec.ViteDevID, true
	}
	if rec.OriginalSource != nil && *rec.OriginalSource != "" {
		return *rec.OriginalSource, true
	}
	return urlresolve.Resolve(o.cfg, rec.Header.SourceURL)
}

// patchViaCSSModules resolves each change's selector against the
// component's CSS-Modules source file and patches those files directly,
// grouping changes by resolved module file. Returns true if at least
// one module file was patched.
func (o *Orchestrator) patchViaCSSModules(changes []change.DeclarationChange) bool {
	byFile := make(map[string][]change.DeclarationChange)
	for _, c := range changes {
		m, ok := o.sel.Resolve(o.cfg.ProjectRoot, c.Selector)
		if !ok {
			continue
		}
		mapped := c
		mapped.Selector = m.Selector
		byFile[m.File] = append(byFile[m.File], mapped)
	}
	if len(byFile) == 0 {
		return false
	}

	for file, fileChanges := range byFile {
		file, fileChanges := file, fileChanges
		done := o.fq.Enqueue(file, func() error {
			_, err := patcher.PatchMultiple(file, fileChanges)
			return err
		})
		if err := <-done; err != nil {
			o.log.Warn("stylesync: patching CSS-module file %s: %v", file, err)
			continue
		}
		if content, readErr := readFileIfExists(file); readErr == nil {
			o.lg.RegisterWrite(file, content)
		}
	}
	return true
}

// maybeRetargetToSourceMap decides SCSS-vs-CSS by extension; for a
// plain .css target it attempts to reverse-map the first change's
// position to an authored .scss/.sass/.less file via the source map.
func (o *Orchestrator) maybeRetargetToSourceMap(target string, changes []change.DeclarationChange) string {
	ext := strings.ToLower(filepath.Ext(target))
	if ext != ".css" {
		return target
	}
	if len(changes) == 0 {
		return target
	}
	first := changes[0]
	source, _, _, ok := o.sm.OriginalPosition(target, int(first.Position.Line), int(first.Position.Column))
	if !ok {
		return target
	}
	switch strings.ToLower(filepath.Ext(source)) {
	case ".scss", ".sass", ".less":
		return source
	default:
		return target
	}
}

func (o *Orchestrator) enqueuePatch(id registry.StylesheetID, target string, changes []change.DeclarationChange, newText string) {
	done := o.fq.Enqueue(target, func() error {
		_, err := patcher.PatchMultiple(target, changes)
		return err
	})

	err := <-done
	if err != nil {
		o.log.Warn("stylesync: patching %s: %v", target, err)
		return
	}

	if content, readErr := readFileIfExists(target); readErr == nil {
		o.lg.RegisterWrite(target, content)
	}
	o.lg.RegisterWrite("sheet:"+string(id), []byte(newText))
	o.reg.UpdateText(id, newText, time.Now())
}

// detectViteStylesheets queries the DOM for style[data-vite-dev-id]
// elements and annotates matching registry records with their source
// path, so inline Vite-injected stylesheets resolve to an authored file.
func (o *Orchestrator) detectViteStylesheets(ctx context.Context) {
	sheets, err := o.cdp.GetAllFreshStylesheets(ctx, o.cfg.DevServerBase)
	if err != nil || len(sheets) == 0 {
		return
	}
	matches, err := o.cdp.MatchViteStylesheets(ctx, sheets)
	if err != nil {
		return
	}
	for _, m := range matches {
		o.reg.SetViteDevID(registry.StylesheetID(m.StyleSheetID), m.ViteDevID)
	}
}

// detectWebpackStylesheets extracts an inline source map's first
// resolvable original source from every inline, as-yet-unmapped
// stylesheet's current text.
func (o *Orchestrator) detectWebpackStylesheets() {
	for _, rec := range o.reg.All() {
		if rec.Text == nil {
			continue
		}
		if src, ok := sourcemap.ExtractOriginalSource(*rec.Text, o.cfg.ProjectRoot); ok {
			o.reg.SetOriginalSource(rec.ID, src)
		}
	}
}

func readFileIfExists(path string) ([]byte, error) {
	return os.ReadFile(path)
}
