package discovery

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// parseListing extracts child entry names from a directory-index HTML page.
// Directory entries keep their trailing slash so callers can tell folders
// from documents. Navigation links, query links, and absolute URLs are
// dropped; a page that fails to parse yields no entries rather than an
// error, since a broken listing is just another dead end for discovery.
func parseListing(body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var names []string
	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		switch {
		case href == "" || href == "/" || href == "../" || href == "..":
			return
		case strings.HasPrefix(href, "?") || strings.HasPrefix(href, "#"):
			return
		case strings.Contains(href, "://") || strings.HasPrefix(href, "/"):
			return
		}
		names = append(names, href)
	})
	return names
}

// listingDirs filters listing entries down to sub-folder names, slash
// stripped.
func listingDirs(entries []string) []string {
	var dirs []string
	for _, e := range entries {
		if strings.HasSuffix(e, "/") {
			dirs = append(dirs, strings.TrimSuffix(e, "/"))
		}
	}
	return dirs
}

// listingDocs filters listing entries down to alert document names.
func listingDocs(entries []string) []string {
	var docs []string
	for _, e := range entries {
		if strings.HasSuffix(e, "/") {
			continue
		}
		if strings.HasSuffix(e, ".cap") || strings.HasSuffix(e, ".xml") {
			docs = append(docs, e)
		}
	}
	return docs
}
