// Package agent embeds the page agent script and wraps it for the two ways
// it reaches a page: as a userscript that dials the websocket bridge, and
// as a CDP injection that reports through a Runtime binding.
package agent

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed agent.js
var script string

// Script returns the agent source. Evaluating it defines
// window.__titlesentinel without attaching anything.
func Script() string {
	return script
}

// Userscript returns a userscript that runs the agent on pages under
// matchURL and connects it to the bridge on port.
func Userscript(matchURL string, port int) string {
	var b strings.Builder
	b.WriteString("// ==UserScript==\n")
	b.WriteString("// @name         titlesentinel agent\n")
	b.WriteString("// @description  Reports conversation content and title changes to titlesentinel.\n")
	fmt.Fprintf(&b, "// @match        %s*\n", matchURL)
	b.WriteString("// @grant        none\n")
	b.WriteString("// @run-at       document-end\n")
	b.WriteString("// ==/UserScript==\n\n")
	b.WriteString(script)
	fmt.Fprintf(&b, "\nwindow.__titlesentinel.connect(%q);\n", fmt.Sprintf("ws://127.0.0.1:%d/", port))
	return b.String()
}

// Bootstrap returns the script injected over CDP: the agent plus a call
// that reports through the named binding. It is safe to evaluate twice.
func Bootstrap(binding string) string {
	return script + fmt.Sprintf("\nif (window[%q]) window.__titlesentinel.bind(%q);\n", binding, binding)
}

// HandleExpr returns a function expression that passes one JSON command to
// the agent and resolves to its reply.
func HandleExpr() string {
	return `(cmd) => window.__titlesentinel ? window.__titlesentinel.handle(cmd) : { id: cmd.id, ok: false, error: 'agent not installed' }`
}
