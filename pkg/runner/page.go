package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
)

// evalHarness wraps user code so console output rides along with the
// serialized return value. The snippet is passed as an argument, never
// interpolated into the harness source.
const evalHarness = `(code) => {
	const logs = [];
	const methods = ["log", "info", "warn", "error"];
	const originals = {};
	const render = (args) => args.map(a => {
		if (typeof a === "string") return a;
		try { return JSON.stringify(a); } catch (e) { return String(a); }
	}).join(" ");
	for (const m of methods) {
		originals[m] = console[m];
		console[m] = (...args) => { logs.push(render(args)); originals[m].apply(console, args); };
	}
	let value;
	try {
		value = eval(code);
	} finally {
		for (const m of methods) console[m] = originals[m];
	}
	let out;
	if (value === undefined) out = "undefined";
	else if (typeof value === "string") out = value;
	else { try { out = JSON.stringify(value); } catch (e) { out = String(value); } }
	if (logs.length > 0) out += "\n\nConsole logs:\n" + logs.join("\n");
	return out;
}`

// PageEvaluator runs scripts against a live page.
type PageEvaluator struct {
	page    *rod.Page
	timeout time.Duration
}

// NewPageEvaluator wraps a page. A zero timeout leaves the page's own
// deadline in charge.
func NewPageEvaluator(page *rod.Page, timeout time.Duration) *PageEvaluator {
	return &PageEvaluator{page: page, timeout: timeout}
}

// Eval evaluates the snippet with console capture and returns the
// combined result string.
func (e *PageEvaluator) Eval(ctx context.Context, code string) (string, error) {
	page := e.page.Context(ctx)
	if e.timeout > 0 {
		page = page.Timeout(e.timeout)
	}

	result, err := page.Eval(evalHarness, code)
	if err != nil {
		return "", fmt.Errorf("script evaluation failed: %w", err)
	}

	switch v := result.Value.Val().(type) {
	case string:
		return v, nil
	case nil:
		return "undefined", nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), nil
		}
		return string(encoded), nil
	}
}
