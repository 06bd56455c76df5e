// Package citation implements the source-resolution pipeline: synthetic
// short-URL allocation per search turn, citation extraction from LLM
// summaries, marker insertion, and the final reference pass that rewrites
// short URLs back to real ones and renders the bibliography.
package citation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"deepsearch/internal/logging"
	"deepsearch/internal/search"
)

// ShortURLPrefix is the synthetic namespace for allocated short URLs. The
// host never resolves; short URLs exist only inside a session and are
// rewritten to real URLs before the report leaves the pipeline.
const ShortURLPrefix = "https://deepsearch.local/id/"

const maxLabelChars = 50

// Source is one citable origin.
type Source struct {
	Label    string `json:"label"`
	ShortURL string `json:"short_url"`
	RealURL  string `json:"real_url"`
}

// Segment is one source attached to a citation site.
type Segment struct {
	Label    string `json:"label"`
	ShortURL string `json:"short_url"`
	RealURL  string `json:"real_url"`
}

// Citation is one marker site in an LLM summary. Start/End are byte offsets
// into the summary text.
type Citation struct {
	Start    int       `json:"start"`
	End      int       `json:"end"`
	Segments []Segment `json:"segments"`
}

// ResolveURLs allocates a short URL for every candidate page of one
// web-research invocation. The mapping is stable within the invocation:
// result index idx gets `<prefix><searchID>-<idx>`.
func ResolveURLs(results []search.Result, searchID int) map[string]string {
	resolved := make(map[string]string, len(results))
	for idx, r := range results {
		if _, seen := resolved[r.URL]; seen {
			continue
		}
		resolved[r.URL] = fmt.Sprintf("%s%d-%d", ShortURLPrefix, searchID, idx)
	}
	return resolved
}

// LabelFor derives the display label for a result: title first, site name
// second, a numbered placeholder last. Labels are capped at 50 characters.
func LabelFor(r search.Result, idx int) string {
	label := strings.TrimSpace(r.Title)
	if label == "" {
		label = strings.TrimSpace(r.SiteName)
	}
	if label == "" {
		label = fmt.Sprintf("Source %d", idx+1)
	}
	if len(label) > maxLabelChars {
		label = label[:maxLabelChars]
	}
	return label
}

// Extract locates a citation site in the LLM summary for each candidate
// page. For page N (1-based) the scanner tries, in order: `[N]`,
// `[citation N]`, `citation N`, `source N`, the raw URL, then the title.
// The first match wins. Pages with no match are anchored at end-of-text so
// they still reach the reference list.
func Extract(text string, results []search.Result, shortURLs map[string]string) []Citation {
	var citations []Citation
	for idx, r := range results {
		shortURL, ok := shortURLs[r.URL]
		if !ok {
			continue
		}
		seg := Segment{
			Label:    LabelFor(r, idx),
			ShortURL: shortURL,
			RealURL:  r.URL,
		}
		start, end, found := findAnchor(text, idx+1, r)
		if !found {
			start, end = len(text), len(text)
			logging.Citation("no anchor for source %d (%s), pinning to end of text", idx+1, r.URL)
		}
		citations = append(citations, Citation{Start: start, End: end, Segments: []Segment{seg}})
	}
	return citations
}

func findAnchor(text string, n int, r search.Result) (start, end int, found bool) {
	patterns := []string{
		fmt.Sprintf("[%d]", n),
		fmt.Sprintf("[citation %d]", n),
		fmt.Sprintf("citation %d", n),
		fmt.Sprintf("source %d", n),
	}
	for _, p := range patterns {
		if idx := indexFold(text, p); idx >= 0 {
			return idx, idx + len(p), true
		}
	}
	if r.URL != "" {
		if idx := strings.Index(text, r.URL); idx >= 0 {
			return idx, idx + len(r.URL), true
		}
	}
	title := strings.TrimSpace(r.Title)
	if len(title) >= 4 {
		if idx := indexFold(text, title); idx >= 0 {
			return idx, idx + len(title), true
		}
	}
	return 0, 0, false
}

// indexFold is a case-insensitive strings.Index reporting offsets into s
// itself. Lowercasing the haystack can change byte lengths (U+0130 for one)
// and shift every later offset, so matching compares fixed-width windows
// with EqualFold instead.
func indexFold(s, substr string) int {
	if substr == "" {
		return 0
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

// InsertMarkers inserts ` [label](short_url)` after each citation site.
// Sites are processed in descending end offset so earlier offsets stay
// valid as the text grows.
func InsertMarkers(text string, citations []Citation) string {
	sorted := make([]Citation, len(citations))
	copy(sorted, citations)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].End != sorted[j].End {
			return sorted[i].End > sorted[j].End
		}
		return sorted[i].Start > sorted[j].Start
	})

	for _, c := range sorted {
		end := c.End
		if end > len(text) {
			end = len(text)
		}
		var marker strings.Builder
		for _, seg := range c.Segments {
			fmt.Fprintf(&marker, " [%s](%s)", seg.Label, seg.ShortURL)
		}
		text = text[:end] + marker.String() + text[end:]
	}
	return text
}

type citedRef struct {
	source   Source
	searchID int
	idx      int
}

var shortURLPattern = regexp.MustCompile(regexp.QuoteMeta(ShortURLPrefix) + `(\d+)-(\d+)`)

var referencesHeading = regexp.MustCompile(`(?mi)^#{1,6}\s*(References|参考资料|参考文献|参考|来源|引用)`)

// FinalizeReport is the end-of-pipeline pass. It finds every short URL the
// report actually cites, rewrites all short URLs to their real URLs, and
// appends a references section when the report does not already have one.
// Cited short URLs with no known source are listed as "source not found".
// The returned source list is the deduped bibliography in citation order.
func FinalizeReport(report string, sources []Source) (string, []Source) {
	byShort := make(map[string]Source, len(sources))
	for _, s := range sources {
		if _, seen := byShort[s.ShortURL]; !seen {
			byShort[s.ShortURL] = s
		}
	}

	var cited, dangling []citedRef
	seenShort := make(map[string]bool)
	for _, m := range shortURLPattern.FindAllStringSubmatch(report, -1) {
		full := m[0]
		if seenShort[full] {
			continue
		}
		seenShort[full] = true
		searchID, _ := strconv.Atoi(m[1])
		idx, _ := strconv.Atoi(m[2])
		src, ok := byShort[full]
		if !ok {
			dangling = append(dangling, citedRef{searchID: searchID, idx: idx})
			continue
		}
		cited = append(cited, citedRef{source: src, searchID: searchID, idx: idx})
	}
	sortRefs(cited)
	sortRefs(dangling)

	// Rewrite every short URL the report mentions, cited or dangling.
	report = shortURLPattern.ReplaceAllStringFunc(report, func(short string) string {
		if src, ok := byShort[short]; ok {
			return src.RealURL
		}
		return short
	})

	unique := dedupeSources(cited)
	if (len(unique) > 0 || len(dangling) > 0) && !referencesHeading.MatchString(report) {
		var b strings.Builder
		b.WriteString(strings.TrimRight(report, "\n"))
		b.WriteString("\n\n## References\n\n")
		for i, s := range unique {
			fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, s.Label, s.RealURL)
		}
		// A cited short URL with no known source still gets a line, so the
		// reader can see the marker points at nothing resolvable.
		for i, d := range dangling {
			fmt.Fprintf(&b, "%d. source not found (%d-%d)\n", len(unique)+i+1, d.searchID, d.idx)
		}
		report = b.String()
	}
	return report, unique
}

func sortRefs(refs []citedRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].searchID != refs[j].searchID {
			return refs[i].searchID < refs[j].searchID
		}
		return refs[i].idx < refs[j].idx
	})
}

func dedupeSources(cited []citedRef) []Source {
	sources := make([]Source, len(cited))
	for i, c := range cited {
		sources[i] = c.source
	}
	return Dedupe(sources)
}

// Dedupe removes near-duplicate sources, keeping first occurrences. Two
// sources are duplicates when they share both a trailing-slash-normalized
// URL and a whitespace-collapsed lowercased label.
func Dedupe(sources []Source) []Source {
	seen := make(map[[2]string]bool)
	var out []Source
	for _, s := range sources {
		key := [2]string{normalizeURL(s.RealURL), normalizeLabel(s.Label)}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func normalizeURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

var labelSpace = regexp.MustCompile(`\s+`)

func normalizeLabel(l string) string {
	return labelSpace.ReplaceAllString(strings.ToLower(strings.TrimSpace(l)), " ")
}
