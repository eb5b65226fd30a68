package webfetch

import (
	"regexp"
	"strings"
)

const minSentenceLen = 40

var (
	scriptRe  = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	styleRe   = regexp.MustCompile(`(?is)<style\b.*?</style>`)
	commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	// Block-level boundaries end a sentence; otherwise a stray fragment
	// like a page title merges into the following paragraph.
	blockTagRe = regexp.MustCompile(`(?i)</?(?:html|head|body|title|p|div|section|article|header|footer|nav|aside|br|h[1-6]|li|ul|ol|table|thead|tbody|tr|td|th|blockquote|pre)\b[^>]*>`)
	tagRe      = regexp.MustCompile(`<[^>]*>`)
	spaceRe    = regexp.MustCompile(`\s+`)

	sentenceRe = regexp.MustCompile(`[.!?]+`)

	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&apos;", "'",
	)
)

// StripHTML reduces an HTML document to its readable prose. Scripts,
// styles, comments and tags are removed, block-level tags count as
// sentence breaks, a fixed entity set is decoded, whitespace collapses,
// and only sentences longer than 40 characters survive. Idempotent on
// its own output.
func StripHTML(html string) string {
	text := scriptRe.ReplaceAllString(html, " ")
	text = styleRe.ReplaceAllString(text, " ")
	text = commentRe.ReplaceAllString(text, " ")
	text = blockTagRe.ReplaceAllString(text, ". ")
	text = tagRe.ReplaceAllString(text, " ")
	text = entityReplacer.Replace(text)
	text = spaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	var kept []string
	for _, sentence := range sentenceRe.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) > minSentenceLen {
			kept = append(kept, sentence)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, ". ") + "."
}
