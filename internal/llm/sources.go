package llm

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// sourcesMarker opens the trailing source list models often append.
const sourcesMarker = "Sources:"

var bareURLPattern = regexp.MustCompile(`https?://[^\s\)\]]+`)

var markdown = goldmark.New()

// Citation is one entry of a structured citations list. The API sends
// either a bare URL string or an object carrying the URL under one of
// several keys; both decode into the same value.
type Citation struct {
	URL   string
	Title string
}

func (c *Citation) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.URL)
	}
	if len(data) == 0 || data[0] != '{' {
		// Unknown shapes are ignored rather than failing the response.
		*c = Citation{}
		return nil
	}

	var obj struct {
		URL    string `json:"url"`
		Source string `json:"source"`
		Link   string `json:"link"`
		Title  string `json:"title"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.Title = obj.Title
	for _, u := range []string{obj.URL, obj.Source, obj.Link} {
		if u != "" {
			c.URL = u
			break
		}
	}
	return nil
}

// Canonical returns the normalized URL, or "" if the citation has none.
func (c Citation) Canonical() string {
	return strings.TrimSpace(c.URL)
}

// citationURLs normalizes a citations list, dropping empty and repeated
// entries.
func citationURLs(cits []Citation) []string {
	urls := make([]string, 0, len(cits))
	for _, c := range cits {
		urls = append(urls, c.Canonical())
	}
	return dedupe(urls)
}

// ExtractSources finds source URLs in answer text. A "Sources:" section is
// searched first, markdown links before bare URLs; otherwise the whole text
// is searched the same way.
func ExtractSources(content string) []string {
	if i := strings.Index(content, sourcesMarker); i >= 0 {
		section := content[i+len(sourcesMarker):]
		if urls := markdownLinks(section); len(urls) > 0 {
			return urls
		}
		if urls := bareURLs(section); len(urls) > 0 {
			return urls
		}
	}
	if urls := markdownLinks(content); len(urls) > 0 {
		return urls
	}
	return bareURLs(content)
}

// markdownLinks returns the http(s) destinations of inline links and
// autolinks in doc order.
func markdownLinks(content string) []string {
	src := []byte(content)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var urls []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch link := n.(type) {
		case *ast.Link:
			urls = append(urls, string(link.Destination))
		case *ast.AutoLink:
			if link.AutoLinkType == ast.AutoLinkURL {
				urls = append(urls, string(link.URL(src)))
			}
		}
		return ast.WalkContinue, nil
	})

	web := urls[:0]
	for _, u := range urls {
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			web = append(web, u)
		}
	}
	return dedupe(web)
}

func bareURLs(content string) []string {
	found := bareURLPattern.FindAllString(content, -1)
	for i, u := range found {
		found[i] = strings.TrimRight(u, ".,;:!?\"'>")
	}
	return dedupe(found)
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
