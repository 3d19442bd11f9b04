// Package frame decides whether an origin's response headers forbid embedding
// the page in a frame. The decision is a pure function over headers and never
// inspects the body.
package frame

import (
	"net/http"
	"strings"
)

// Decision reports whether framing is blocked and, when blocked, why.
type Decision struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

// Check evaluates X-Frame-Options first, then the first frame-ancestors CSP
// directive. The first decisive signal wins. Allow-lists other than 'none'
// and 'self' are treated as blocking: this service's own origin can never
// satisfy a foreign allow-list, and no origin matching is attempted.
func Check(headers http.Header) Decision {
	if xfo := headers.Get("X-Frame-Options"); xfo != "" {
		token := strings.ToLower(strings.TrimSpace(strings.SplitN(xfo, ",", 2)[0]))
		if token == "deny" || token == "sameorigin" {
			return Decision{Blocked: true, Reason: "xfo:" + token}
		}
	}

	csp := headers.Get("Content-Security-Policy")
	if csp == "" {
		return Decision{}
	}
	for _, directive := range strings.Split(csp, ";") {
		fields := strings.Fields(strings.TrimSpace(directive))
		if len(fields) == 0 || !strings.EqualFold(fields[0], "frame-ancestors") {
			continue
		}
		// Only the first frame-ancestors directive is evaluated.
		var hasSelf bool
		for _, token := range fields[1:] {
			switch strings.ToLower(token) {
			case "'none'":
				return Decision{Blocked: true, Reason: "csp:frame-ancestors-none"}
			case "'self'":
				hasSelf = true
			}
		}
		if hasSelf {
			return Decision{Blocked: true, Reason: "csp:frame-ancestors-self"}
		}
		return Decision{Blocked: true, Reason: "csp:frame-ancestors-other"}
	}
	return Decision{}
}
