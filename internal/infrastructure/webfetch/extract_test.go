package webfetch

import (
	"strings"
	"testing"
)

func TestStripHTMLRemovesMarkup(t *testing.T) {
	page := `<!DOCTYPE html>
<html>
<head><title>T</title><style>body { color: red; }</style></head>
<body>
<script>alert("never show this");</script>
<!-- hidden comment -->
<p>Hello world example sentence longer than forty characters here.</p>
<p>Tiny.</p>
</body>
</html>`

	got := StripHTML(page)
	want := "Hello world example sentence longer than forty characters here."
	if got != want {
		t.Errorf("StripHTML = %q, want %q", got, want)
	}
	for _, forbidden := range []string{"alert", "color: red", "hidden comment", "<"} {
		if strings.Contains(got, forbidden) {
			t.Errorf("output leaks %q", forbidden)
		}
	}
}

func TestStripHTMLFragmentsDoNotMergeAcrossBlocks(t *testing.T) {
	// Short fragments from title and headings must not glue themselves
	// onto the next paragraph and survive inside its sentence.
	page := `<html><head><title>News</title></head><body>
<h1>Today</h1>
<p>The actual article body sentence that is clearly long enough to keep.</p>
</body></html>`

	got := StripHTML(page)
	want := "The actual article body sentence that is clearly long enough to keep."
	if got != want {
		t.Errorf("StripHTML = %q, want %q", got, want)
	}
}

func TestStripHTMLDecodesEntities(t *testing.T) {
	page := `<html><body><p>Fish &amp; chips &lt;taste&gt; &quot;great&quot; with a &#39;pint&#39; on the side&nbsp;today.</p></body></html>`
	got := StripHTML(page)
	want := `Fish & chips <taste> "great" with a 'pint' on the side today.`
	if got != want {
		t.Errorf("StripHTML = %q, want %q", got, want)
	}
}

func TestStripHTMLDropsShortSentences(t *testing.T) {
	page := `<html><body>
<p>Yes.</p>
<p>This sentence easily clears the forty character threshold for retention.</p>
<p>No!</p>
<p>Another sentence that also comfortably exceeds the length requirement.</p>
</body></html>`

	got := StripHTML(page)
	want := "This sentence easily clears the forty character threshold for retention. " +
		"Another sentence that also comfortably exceeds the length requirement."
	if got != want {
		t.Errorf("StripHTML = %q, want %q", got, want)
	}
}

func TestStripHTMLIsIdempotent(t *testing.T) {
	page := `<html><body>
<p>First sentence that is definitely longer than forty characters total.</p>
<p>Second sentence that is also definitely longer than forty characters.</p>
</body></html>`

	once := StripHTML(page)
	twice := StripHTML(once)
	if once != twice {
		t.Errorf("not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
}

func TestStripHTMLAllShortSentences(t *testing.T) {
	if got := StripHTML("<html><body><p>Short. Tiny. Nope.</p></body></html>"); got != "" {
		t.Errorf("expected empty output, got %q", got)
	}
}

func TestIsHTMLDetection(t *testing.T) {
	cases := []struct {
		body string
		want bool
	}{
		{"<!DOCTYPE html><html></html>", true},
		{"  <!doctype HTML>", true},
		{"<html lang=\"en\">", true},
		{"<HTML>", true},
		{"{\"json\": true}", false},
		{"plain text about <html> tags", false},
	}
	for _, c := range cases {
		if got := isHTML(c.body); got != c.want {
			t.Errorf("isHTML(%q) = %v, want %v", c.body, got, c.want)
		}
	}
}
