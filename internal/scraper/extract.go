package scraper

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// minMainContentChars is the threshold below which the scored candidate is
// considered junk and the flat paragraph fallback kicks in.
const minMainContentChars = 100

var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"nav": true, "header": true, "footer": true, "aside": true,
	"form": true, "button": true, "svg": true, "template": true,
}

var contentHint = regexp.MustCompile(`(?i)article|content|main|post|body|entry|text`)
var junkHint = regexp.MustCompile(`(?i)comment|sidebar|widget|share|related|promo|banner|advert|menu|breadcrumb`)

// Extract parses an HTML document and returns its title and main article
// text. It scores block containers by text mass and paragraph density, then
// falls back to collecting every <article> and <p> when the winner is too
// thin to be real content.
func Extract(rawHTML string) (title, content string, err error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title = findTitle(root)

	best := bestCandidate(root)
	if best != nil {
		content = collapseWhitespace(textOf(best))
	}
	if len(content) < minMainContentChars {
		content = collapseWhitespace(fallbackText(root))
	}
	return title, content, nil
}

func findTitle(root *html.Node) string {
	if t := firstElement(root, "title"); t != nil {
		return collapseWhitespace(textOf(t))
	}
	if h := firstElement(root, "h1"); h != nil {
		return collapseWhitespace(textOf(h))
	}
	return ""
}

type candidate struct {
	node  *html.Node
	score int
}

func bestCandidate(root *html.Node) *html.Node {
	var best candidate
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipTags[n.Data] {
				return
			}
			if isBlockContainer(n.Data) {
				if sc := scoreNode(n); sc > best.score {
					best = candidate{node: n, score: sc}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return best.node
}

func isBlockContainer(tag string) bool {
	switch tag {
	case "article", "main", "section", "div", "td":
		return true
	}
	return false
}

func scoreNode(n *html.Node) int {
	text := textOf(n)
	score := len(collapseWhitespace(text))
	score += countElements(n, "p") * 30

	switch n.Data {
	case "article", "main":
		score += 500
	}
	hints := attrText(n)
	if contentHint.MatchString(hints) {
		score += 100
	}
	if junkHint.MatchString(hints) {
		score -= 300
	}
	return score
}

func attrText(n *html.Node) string {
	var parts []string
	for _, a := range n.Attr {
		if a.Key == "id" || a.Key == "class" {
			parts = append(parts, a.Val)
		}
	}
	return strings.Join(parts, " ")
}

// fallbackText gathers text from every <article> and <p> in document order.
func fallbackText(root *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipTags[n.Data] {
				return
			}
			if n.Data == "p" || n.Data == "article" {
				b.WriteString(textOf(n))
				b.WriteString(" ")
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return b.String()
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
			return
		}
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func firstElement(root *html.Node, tag string) *html.Node {
	var found *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == tag {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

func countElements(root *html.Node, tag string) int {
	count := 0
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			count++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return count
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// sentenceEnders close a sentence for truncation purposes, covering both
// Latin and CJK punctuation.
var sentenceEnders = map[rune]bool{
	'。': true, '！': true, '？': true,
	'.': true, '!': true, '?': true,
}

// CleanAndTruncate collapses whitespace and caps the text at max characters.
// The cap counts runes, not bytes, so multi-byte text is never cut inside a
// rune. When a cut is needed it backs up to the last sentence ender inside
// the final 20% of the cap, falling back to the last space, so truncation
// never splits a sentence mid-word.
func CleanAndTruncate(text string, max int) string {
	text = collapseWhitespace(text)
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	cut := []rune(text)[:max]
	floor := max - max/5

	for i := max - 1; i >= floor; i-- {
		if sentenceEnders[cut[i]] {
			return strings.TrimSpace(string(cut[:i+1]))
		}
	}
	for i := max - 1; i >= floor; i-- {
		if cut[i] == ' ' {
			return strings.TrimSpace(string(cut[:i]))
		}
	}
	return strings.TrimSpace(string(cut))
}
