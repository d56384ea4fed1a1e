package relme

import (
	"strings"

	"golang.org/x/net/html"
)

// findRelMe returns the href of every <a> or <link> element with a rel of
// "me", in document order.
func findRelMe(node *html.Node) []string {
	var hrefs []string

	for _, link := range searchAll(node, isRelMe) {
		hrefs = append(hrefs, getAttr(link, "href"))
	}

	return hrefs
}

func searchAll(node *html.Node, pred func(*html.Node) bool) (results []*html.Node) {
	if pred(node) {
		results = append(results, node)
		return
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		result := searchAll(child, pred)
		if len(result) > 0 {
			results = append(results, result...)
		}
	}

	return
}

func isRelMe(node *html.Node) bool {
	if node.Type != html.ElementNode || (node.Data != "a" && node.Data != "link") {
		return false
	}

	if strings.TrimSpace(getAttr(node, "href")) == "" {
		return false
	}

	return hasRel(getAttr(node, "rel"), "me")
}

func hasRel(rels, rel string) bool {
	for _, candidate := range strings.Fields(rels) {
		if strings.EqualFold(candidate, rel) {
			return true
		}
	}

	return false
}

func getAttr(node *html.Node, attrName string) string {
	for _, attr := range node.Attr {
		if attr.Key == attrName {
			return attr.Val
		}
	}

	return ""
}
