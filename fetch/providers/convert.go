package providers

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// Pre-compiled regexes to avoid ReDoS with runtime compilation
var (
	scriptRe         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	excessiveLinesRe = regexp.MustCompile(`\n{4,}`)
)

// Converter turns HTML pages into markdown suitable for prompt context.
// Readability extraction runs first; when it finds nothing usable the
// converter falls back to structural cleanup of the document tree.
type Converter struct {
	converter *md.Converter
}

// NewConverter creates an HTML to markdown converter.
func NewConverter() *Converter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &Converter{converter: converter}
}

// Convert transforms an HTML page into a title and markdown body. pageURL
// resolves relative links during extraction.
func (c *Converter) Convert(body []byte, pageURL *url.URL) (string, string, error) {
	if article, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
		if content := strings.TrimSpace(article.Content); content != "" {
			markdown, mdErr := c.converter.ConvertString(content)
			if mdErr == nil && strings.TrimSpace(markdown) != "" {
				title := strings.TrimSpace(article.Title)
				if title == "" {
					title = pageTitle(body)
				}
				return title, cleanMarkdown(markdown), nil
			}
		}
	}

	title := pageTitle(body)
	markdown, err := c.converter.ConvertString(mainContent(body))
	if err != nil {
		return "", "", err
	}
	markdown = cleanMarkdown(markdown)
	if title == "" {
		title = firstHeading(markdown)
	}
	return title, markdown, nil
}

// pageTitle extracts the document title element.
func pageTitle(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil && title == ""; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

// mainContent returns the HTML of the page's main content area. It prefers
// an explicit main or article element, otherwise strips navigation chrome
// from the body.
func mainContent(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		// Fall back to regex cleanup when the tree cannot be parsed.
		content := scriptRe.ReplaceAllString(string(body), "")
		return styleRe.ReplaceAllString(content, "")
	}

	for _, want := range []string{"main", "article"} {
		if node := findTag(doc, want); node != nil {
			return renderNode(node)
		}
	}
	if node := findRole(doc, "main"); node != nil {
		return renderNode(node)
	}

	stripChrome(doc)
	if node := findTag(doc, "body"); node != nil {
		return renderNode(node)
	}
	return string(body)
}

// findTag finds the first element with the given tag name.
func findTag(n *html.Node, tag string) *html.Node {
	return findNode(n, func(node *html.Node) bool {
		return node.Data == tag
	})
}

// findRole finds the first element carrying role=value.
func findRole(n *html.Node, value string) *html.Node {
	return findNode(n, func(node *html.Node) bool {
		for _, a := range node.Attr {
			if a.Key == "role" && a.Val == value {
				return true
			}
		}
		return false
	})
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	var result *html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if result != nil {
			return
		}
		if node.Type == html.ElementNode && match(node) {
			result = node
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return result
}

// chromeTags and chromeClasses mark elements that carry page furniture
// rather than content.
var chromeTags = map[string]bool{
	"nav": true, "header": true, "footer": true, "aside": true,
	"script": true, "style": true, "noscript": true, "iframe": true,
	"object": true, "embed": true, "form": true, "input": true, "button": true,
}

var chromeClasses = map[string]bool{
	"nav": true, "navbar": true, "navigation": true, "sidebar": true,
	"menu": true, "toc": true, "footer": true, "header": true,
	"ad": true, "advertisement": true, "social": true, "share": true,
	"comments": true, "related": true, "breadcrumb": true,
}

// stripChrome removes navigation and boilerplate elements in one pass.
func stripChrome(doc *html.Node) {
	var toRemove []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			if chromeTags[node.Data] || hasChromeClass(node) {
				toRemove = append(toRemove, node)
				return
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, node := range toRemove {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}

func hasChromeClass(node *html.Node) bool {
	for _, a := range node.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(strings.ToLower(a.Val)) {
			if chromeClasses[c] {
				return true
			}
		}
	}
	return false
}

// renderNode renders a node and its children back to an HTML string.
func renderNode(n *html.Node) string {
	var sb strings.Builder
	html.Render(&sb, n)
	return sb.String()
}

// cleanMarkdown collapses excessive blank lines and trims trailing space.
func cleanMarkdown(content string) string {
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n\n")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// firstHeading extracts the first H1 heading from markdown.
func firstHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
