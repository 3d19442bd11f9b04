// Package rewrite transforms fetched HTML so a third-party page renders
// correctly inside the annotator's own frame: relative references are
// resolved against the page's resolved origin and downloadable documents are
// routed through the resource proxy.
package rewrite

import (
	"bytes"
	"fmt"
	"html"
	"mime"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

// ResourceProxyPath is the endpoint downloadable documents are routed through.
const ResourceProxyPath = "/api/proxy/resource"

// resourceAttrs is the fixed table of rewritable (tag, attribute) pairs.
var resourceAttrs = []struct{ tag, attr string }{
	{"a", "href"},
	{"img", "src"},
	{"img", "srcset"},
	{"script", "src"},
	{"link", "href"},
	{"iframe", "src"},
	{"source", "src"},
	{"source", "srcset"},
	{"video", "poster"},
	{"video", "src"},
	{"audio", "src"},
	{"form", "action"},
}

// Result is the outcome of a rewrite attempt. When Rewritten is false, Body
// holds the caller's original bytes and must be served unmodified; display
// degrades gracefully instead of failing the request.
type Result struct {
	Body      []byte
	Rewritten bool
}

// Rewrite parses the document, forces a single <base href> pointing at the
// resolved origin, resolves every rewritable attribute to an absolute URL,
// and re-serializes in the encoding declared by contentType (UTF-8 default).
func Rewrite(baseURL string, body []byte, contentType string) Result {
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return Result{Body: body}
	}
	decoded, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return Result{Body: body}
	}
	doc, err := goquery.NewDocumentFromReader(decoded)
	if err != nil {
		return Result{Body: body}
	}

	ensureBaseTag(doc, baseURL)

	for _, pair := range resourceAttrs {
		tag, attr := pair.tag, pair.attr
		doc.Find(tag).Each(func(_ int, sel *goquery.Selection) {
			value, ok := sel.Attr(attr)
			if !ok || value == "" {
				return
			}
			if attr == "srcset" {
				sel.SetAttr(attr, rewriteSrcset(base, value))
				return
			}
			absolute := resolveRef(base, value)
			if absolute == "" {
				return
			}
			if tag == "a" && attr == "href" && isProxiedDownload(absolute) {
				sel.SetAttr(attr, ResourceProxyPath+"?url="+url.QueryEscape(absolute))
				return
			}
			sel.SetAttr(attr, absolute)
		})
	}

	rendered, err := doc.Html()
	if err != nil {
		return Result{Body: body}
	}
	encoded, err := encodeBody(rendered, contentType)
	if err != nil {
		return Result{Body: body}
	}
	return Result{Body: encoded, Rewritten: true}
}

// ensureBaseTag leaves the document with exactly one <base href> set to the
// resolved origin, so untouched relative references still resolve correctly.
func ensureBaseTag(doc *goquery.Document, baseURL string) {
	head := doc.Find("head").First()
	if head.Length() == 0 {
		return
	}
	bases := head.Find("base")
	if bases.Length() == 0 {
		head.PrependHtml(fmt.Sprintf(`<base href="%s">`, html.EscapeString(baseURL)))
		return
	}
	bases.First().SetAttr("href", baseURL)
	bases.Slice(1, bases.Length()).Remove()
}

func resolveRef(base *url.URL, ref string) string {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}

// rewriteSrcset resolves each candidate URL while preserving its descriptor
// (pixel density, width). Empty candidates are dropped.
func rewriteSrcset(base *url.URL, value string) string {
	var candidates []string
	for _, part := range strings.Split(value, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}
		resolved := resolveRef(base, fields[0])
		if resolved == "" {
			continue
		}
		if len(fields) > 1 {
			candidates = append(candidates, resolved+" "+strings.Join(fields[1:], " "))
		} else {
			candidates = append(candidates, resolved)
		}
	}
	return strings.Join(candidates, ", ")
}

// isProxiedDownload reports whether a resolved link should be routed through
// the resource proxy instead of pointing at the origin directly.
func isProxiedDownload(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(parsed.Path), ".pdf")
}

func encodeBody(rendered, contentType string) ([]byte, error) {
	name := declaredCharset(contentType)
	if name == "" || strings.EqualFold(name, "utf-8") {
		return []byte(rendered), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("lookup encoding %q: %w", name, err)
	}
	out, err := enc.NewEncoder().Bytes([]byte(rendered))
	if err != nil {
		return nil, fmt.Errorf("encode body as %q: %w", name, err)
	}
	return out, nil
}

func declaredCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}
