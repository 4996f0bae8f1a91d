package parser

import (
	"net/url"
	"strings"
)

// PageLink is one entry of the pagination control.
type PageLink struct {
	URL    string
	Label  string
	Active bool
}

// ResolvePageURLs lists the catalog pages advertised by the pagination
// control, in control order and without duplicate URLs. The active link is
// the page doc was fetched from.
func ResolvePageURLs(doc Node, baseURL string, layout Layout) []PageLink {
	if doc == nil {
		return nil
	}

	var links []PageLink
	index := make(map[string]int)

	for _, control := range doc.Find(layout.Pagination) {
		for _, group := range control.Children() {
			for _, link := range group.Children() {
				label := textOf(link)
				if label == "" {
					continue
				}
				href := PageURL(baseURL, layout.PageParameter, label)
				active := isActive(link, layout.ActiveClass)

				if i, ok := index[href]; ok {
					links[i].Active = links[i].Active || active
					continue
				}
				index[href] = len(links)
				links = append(links, PageLink{URL: href, Label: label, Active: active})
			}
		}
	}
	return links
}

// PageURL builds the listing URL of a page label.
func PageURL(baseURL, parameter, label string) string {
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return baseURL + sep + parameter + "=" + url.QueryEscape(label)
}

func isActive(link Node, class string) bool {
	if class == "" {
		return false
	}
	return link.HasClass(class) || len(link.Find("."+class)) > 0
}
