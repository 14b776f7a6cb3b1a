package spider

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// pageInfo is what link extraction recovers from an HTML response.
type pageInfo struct {
	links []string
	forms int
	title string
}

// linkAttrs maps element names to the attribute carrying a URL.
var linkAttrs = map[string]string{
	"a":      "href",
	"form":   "action",
	"script": "src",
	"link":   "href",
	"img":    "src",
}

// extractLinks walks the document, resolving relative references against
// base. Forms are counted; the first <title> text is captured.
func extractLinks(body []byte, base string) pageInfo {
	var info pageInfo

	baseURL, err := url.Parse(base)
	if err != nil {
		return info
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return info
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "form" {
				info.forms++
			}
			if n.Data == "title" && info.title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				info.title = strings.TrimSpace(n.FirstChild.Data)
			}
			if attr, ok := linkAttrs[n.Data]; ok {
				for _, a := range n.Attr {
					if a.Key != attr || a.Val == "" {
						continue
					}
					ref, err := url.Parse(a.Val)
					if err != nil {
						continue
					}
					resolved := baseURL.ResolveReference(ref)
					if resolved.Scheme != "http" && resolved.Scheme != "https" {
						continue
					}
					info.links = append(info.links, resolved.String())
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return info
}
