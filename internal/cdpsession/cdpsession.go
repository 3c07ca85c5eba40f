// Package cdpsession implements the CDP Session Manager (C2): it owns
// one long-lived debugger session against a browser target plus the
// ephemeral "fresh-fetch" sessions used for polling, over a hand-rolled
// JSON-RPC connection (the CDP wire protocol is simple enough, and
// narrow enough here, not to need a generated binding).
package cdpsession

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TargetInfo is one entry from GET /json/list.
type TargetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// StyleSheetHeader mirrors CSS.CSSStyleSheetHeader's fields this agent
// cares about.
type StyleSheetHeader struct {
	StyleSheetID string `json:"styleSheetId"`
	SourceURL    string `json:"sourceURL"`
	IsInline     bool   `json:"isInline"`
	SourceMapURL string `json:"sourceMapURL"`
}

// FatalConnectError indicates the debug port refused the connection
// outright (the browser isn't listening there), as opposed to a
// recoverable mid-session network error.
type FatalConnectError struct {
	Port int
	Err  error
}

func (e *FatalConnectError) Error() string {
	return fmt.Sprintf("cdpsession: could not reach Chrome debug port %d: %v", e.Port, e.Err)
}
func (e *FatalConnectError) Unwrap() error { return e.Err }

// TargetNotFoundError indicates the debug port answered but no open tab
// matched the configured URL prefix. Tabs lists every target's URL that
// was enumerated, so the caller can print it.
type TargetNotFoundError struct {
	URLPrefix string
	Tabs      []string
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("cdpsession: no open tab matches URL prefix %q (saw: %s)",
		e.URLPrefix, strings.Join(e.Tabs, ", "))
}

// conn is one raw JSON-RPC connection to a target's debugger websocket,
// grounded on the id-keyed pending-command map / method-keyed event-sink
// map connection manager pattern.
type conn struct {
	ws *websocket.Conn

	mu        sync.Mutex
	nextID    int
	pending   map[int]chan rpcResult
	listeners map[string][]chan json.RawMessage

	closeOnce sync.Once
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

type rpcRequest struct {
	ID     int         `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type rpcMessage struct {
	ID     int             `json:"id"`
	Error  *rpcError       `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func dial(wsURL string) (*conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://localhost/"}})
	if err != nil {
		return nil, err
	}
	c := &conn{
		ws:        ws,
		pending:   make(map[int]chan rpcResult),
		listeners: make(map[string][]chan json.RawMessage),
	}
	go c.readLoop()
	return c, nil
}

func (c *conn) readLoop() {
	for {
		msg := rpcMessage{}
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.failAllPending(err)
			return
		}
		if msg.ID != 0 {
			c.resolvePending(msg)
			continue
		}
		c.dispatchEvent(msg.Method, msg.Params)
	}
}

func (c *conn) resolvePending(msg rpcMessage) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if msg.Error != nil {
		ch <- rpcResult{err: fmt.Errorf("cdp error %d: %s", msg.Error.Code, msg.Error.Message)}
		return
	}
	ch <- rpcResult{result: msg.Result}
}

func (c *conn) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- rpcResult{err: err}
		delete(c.pending, id)
	}
}

func (c *conn) dispatchEvent(method string, params json.RawMessage) {
	c.mu.Lock()
	chans := append([]chan json.RawMessage(nil), c.listeners[method]...)
	c.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- params:
		default:
		}
	}
}

// on registers a buffered listener for a CDP event method, replayed for
// every dispatch until the connection closes.
func (c *conn) on(method string) chan json.RawMessage {
	ch := make(chan json.RawMessage, 32)
	c.mu.Lock()
	c.listeners[method] = append(c.listeners[method], ch)
	c.mu.Unlock()
	return ch
}

func (c *conn) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan rpcResult, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.ws.WriteJSON(rpcRequest{ID: id, Method: method, Params: params}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if out == nil || len(res.result) == 0 {
			return nil
		}
		return json.Unmarshal(res.result, out)
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.ws.Close()
	})
}

// Manager owns the long-lived session used for the life of the agent.
type Manager struct {
	host string
	port int

	mu      sync.Mutex
	primary *conn

	onAdded   func(StyleSheetHeader)
	onChanged func(id string)
	pendingCb []func(*Manager)
}

// New constructs a Manager for the given debug host/port. Connect must
// be called before any other method.
func New(host string, port int) *Manager {
	return &Manager{host: host, port: port}
}

// OnStylesheetAdded registers cb for CSS.styleSheetAdded. May be called
// before or after Connect; pre-connect registrations are replayed once
// the session's event listeners exist.
func (m *Manager) OnStylesheetAdded(cb func(StyleSheetHeader)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAdded = cb
	if m.primary != nil {
		m.wireAdded()
	}
}

// OnStylesheetChanged registers cb for CSS.styleSheetChanged.
func (m *Manager) OnStylesheetChanged(cb func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = cb
	if m.primary != nil {
		m.wireChanged()
	}
}

// Connect lists targets via GET /json/list, attaches to the first
// type=page target whose URL has urlPrefix, and enables DOM, CSS, Page
// in that order (CSS requires DOM enabled first).
func (m *Manager) Connect(ctx context.Context, urlPrefix string) error {
	targets, err := m.listTargets()
	if err != nil {
		return &FatalConnectError{Port: m.port, Err: err}
	}

	var target *TargetInfo
	for i := range targets {
		if targets[i].Type == "page" && strings.HasPrefix(targets[i].URL, urlPrefix) {
			target = &targets[i]
			break
		}
	}
	if target == nil {
		var tabs []string
		for _, t := range targets {
			if t.Type == "page" {
				tabs = append(tabs, t.URL)
			}
		}
		return &TargetNotFoundError{URLPrefix: urlPrefix, Tabs: tabs}
	}

	c, err := dial(target.WebSocketDebuggerURL)
	if err != nil {
		return &FatalConnectError{Port: m.port, Err: err}
	}

	m.mu.Lock()
	m.primary = c
	if m.onAdded != nil {
		m.wireAdded()
	}
	if m.onChanged != nil {
		m.wireChanged()
	}
	m.mu.Unlock()

	if err := c.call(ctx, "DOM.enable", nil, nil); err != nil {
		return fmt.Errorf("cdpsession: DOM.enable: %w", err)
	}
	if err := c.call(ctx, "CSS.enable", nil, nil); err != nil {
		return fmt.Errorf("cdpsession: CSS.enable: %w", err)
	}
	if err := c.call(ctx, "Page.enable", nil, nil); err != nil {
		return fmt.Errorf("cdpsession: Page.enable: %w", err)
	}
	return nil
}

func (m *Manager) wireAdded() {
	ch := m.primary.on("CSS.styleSheetAdded")
	go func() {
		for params := range ch {
			var payload struct {
				Header StyleSheetHeader `json:"header"`
			}
			if err := json.Unmarshal(params, &payload); err != nil {
				continue
			}
			m.onAdded(payload.Header)
		}
	}()
}

func (m *Manager) wireChanged() {
	ch := m.primary.on("CSS.styleSheetChanged")
	go func() {
		for params := range ch {
			var payload struct {
				StyleSheetID string `json:"styleSheetId"`
			}
			if err := json.Unmarshal(params, &payload); err != nil {
				continue
			}
			m.onChanged(payload.StyleSheetID)
		}
	}()
}

// GetStylesheetText fetches the current text of one stylesheet.
func (m *Manager) GetStylesheetText(ctx context.Context, id string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	err := m.primary.call(ctx, "CSS.getStyleSheetText", map[string]string{"styleSheetId": id}, &out)
	if err != nil {
		return "", fmt.Errorf("cdpsession: getStyleSheetText(%s): %w", id, err)
	}
	return out.Text, nil
}

// ReloadPage issues Page.reload.
func (m *Manager) ReloadPage(ctx context.Context) error {
	if err := m.primary.call(ctx, "Page.reload", map[string]bool{"ignoreCache": false}, nil); err != nil {
		return fmt.Errorf("cdpsession: Page.reload: %w", err)
	}
	return nil
}

// FreshStylesheet is one stylesheet pulled from an ephemeral session.
type FreshStylesheet struct {
	ID         string
	Text       string
	ContentKey string
}

// GetAllFreshStylesheets opens a transient session against the same
// target, enables DOM+CSS, waits for styleSheetAdded events to settle,
// fetches each stylesheet's text, and tears the session down. A
// persistent session's CSS.getStyleSheetText responses are cached by
// the browser after the first fetch, so only a fresh session reflects
// the current content.
func (m *Manager) GetAllFreshStylesheets(ctx context.Context, urlPrefix string) ([]FreshStylesheet, error) {
	targets, err := m.listTargets()
	if err != nil {
		return nil, nil // recoverable: treat as "nothing fresh this tick"
	}
	var target *TargetInfo
	for i := range targets {
		if targets[i].Type == "page" && strings.HasPrefix(targets[i].URL, urlPrefix) {
			target = &targets[i]
			break
		}
	}
	if target == nil {
		return nil, nil
	}

	c, err := dial(target.WebSocketDebuggerURL)
	if err != nil {
		return nil, nil
	}
	defer c.close()

	added := c.on("CSS.styleSheetAdded")
	if err := c.call(ctx, "DOM.enable", nil, nil); err != nil {
		return nil, nil
	}
	if err := c.call(ctx, "CSS.enable", nil, nil); err != nil {
		return nil, nil
	}

	var headers []StyleSheetHeader
	deadline := time.After(200 * time.Millisecond)
collect:
	for {
		select {
		case params := <-added:
			var payload struct {
				Header StyleSheetHeader `json:"header"`
			}
			if json.Unmarshal(params, &payload) == nil {
				headers = append(headers, payload.Header)
			}
		case <-deadline:
			break collect
		case <-ctx.Done():
			break collect
		}
	}

	var out []FreshStylesheet
	for _, h := range headers {
		var textOut struct {
			Text string `json:"text"`
		}
		if err := c.call(ctx, "CSS.getStyleSheetText", map[string]string{"styleSheetId": h.StyleSheetID}, &textOut); err != nil {
			continue
		}
		out = append(out, FreshStylesheet{
			ID:         h.StyleSheetID,
			Text:       textOut.Text,
			ContentKey: contentKey(textOut.Text),
		})
	}
	return out, nil
}

// ViteMatch pairs a stylesheet with the DOM-injected <style> element's
// data-vite-dev-id attribute it corresponds to.
type ViteMatch struct {
	StyleSheetID string
	ViteDevID    string
}

// MatchViteStylesheets queries the DOM for style[data-vite-dev-id]
// elements and matches each against sheets by comparing leading
// trimmed content.
func (m *Manager) MatchViteStylesheets(ctx context.Context, sheets []FreshStylesheet) ([]ViteMatch, error) {
	var doc struct {
		Root struct {
			NodeID int `json:"nodeId"`
		} `json:"root"`
	}
	if err := m.primary.call(ctx, "DOM.getDocument", map[string]int{"depth": -1}, &doc); err != nil {
		return nil, nil
	}

	var query struct {
		NodeIDs []int `json:"nodeIds"`
	}
	params := map[string]interface{}{"nodeId": doc.Root.NodeID, "selector": "style[data-vite-dev-id]"}
	if err := m.primary.call(ctx, "DOM.querySelectorAll", params, &query); err != nil {
		return nil, nil
	}

	var matches []ViteMatch
	for _, nodeID := range query.NodeIDs {
		var attrsOut struct {
			Attributes []string `json:"attributes"`
		}
		if err := m.primary.call(ctx, "DOM.getAttributes", map[string]int{"nodeId": nodeID}, &attrsOut); err != nil {
			continue
		}
		viteID := attrValue(attrsOut.Attributes, "data-vite-dev-id")
		if viteID == "" {
			continue
		}

		var htmlOut struct {
			OuterHTML string `json:"outerHTML"`
		}
		if err := m.primary.call(ctx, "DOM.getOuterHTML", map[string]int{"nodeId": nodeID}, &htmlOut); err != nil {
			continue
		}
		inner := innerStyleText(htmlOut.OuterHTML)
		key := contentKey(inner)

		for _, sheet := range sheets {
			if sheet.ContentKey == key {
				matches = append(matches, ViteMatch{StyleSheetID: sheet.ID, ViteDevID: viteID})
				break
			}
		}
	}
	return matches, nil
}

// Close tears down the primary session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.primary != nil {
		m.primary.close()
	}
}

func (m *Manager) listTargets() ([]TargetInfo, error) {
	resp, err := http.Get(fmt.Sprintf("http://%s:%d/json/list", m.host, m.port))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var targets []TargetInfo
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// contentKey is the leading 100 trimmed characters of text, used to
// match a fresh stylesheet fetch against a live DOM <style> element
// without depending on either side's identifiers agreeing.
func contentKey(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) > 100 {
		trimmed = trimmed[:100]
	}
	return trimmed
}

// attrValue looks up name in CDP's flat [name1, value1, name2, value2, ...]
// attribute list.
func attrValue(attrs []string, name string) string {
	for i := 0; i+1 < len(attrs); i += 2 {
		if attrs[i] == name {
			return attrs[i+1]
		}
	}
	return ""
}

// innerStyleText extracts the text between a <style ...> tag's '>' and
// its closing "</style>".
func innerStyleText(outerHTML string) string {
	open := strings.Index(outerHTML, ">")
	close := strings.LastIndex(outerHTML, "</style>")
	if open < 0 || close < 0 || close <= open {
		return ""
	}
	return outerHTML[open+1 : close]
}
