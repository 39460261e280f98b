// Package normalize turns raw posting markup into plain text, structured
// requirements and a stable content fingerprint.
package normalize

import (
	stdhtml "html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/amishk599/jobscout/internal/model"
)

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "tr": true, "table": true, "header": true, "footer": true,
}

var ignoreTags = map[string]bool{"script": true, "style": true, "noscript": true}

var layoutBreaks = strings.NewReplacer("\r", " ", "\n", " ")

var requirementKeywords = []string{"require", "must", "responsible"}

// HTMLToText strips markup, turning block-level tags into line breaks and
// dropping script, style and noscript contents. Each line is whitespace
// collapsed and empty lines are removed.
func HTMLToText(markup string) string {
	// Some boards double-encode their content.
	if !strings.Contains(markup, "<") && strings.Contains(markup, "&lt;") {
		markup = stdhtml.UnescapeString(markup)
	}

	z := html.NewTokenizer(strings.NewReader(markup))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return joinLines(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if ignoreTags[tag] {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if ignoreTags[tag] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				// Source newlines are layout, not structure.
				b.WriteString(layoutBreaks.Replace(stripMarkup(string(z.Text()))))
			}
		}
	}
}

var angleBrackets = strings.NewReplacer("<", " ", ">", " ")

// stripMarkup cleans decoded text that still carries markup, either escaped
// in the source or inside raw-text elements such as textarea. Tags become
// spaces and stray angle brackets are dropped.
func stripMarkup(text string) string {
	if !strings.ContainsAny(text, "<>") {
		return text
	}
	z := html.NewTokenizer(strings.NewReader(text))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return angleBrackets.Replace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		default:
			b.WriteByte(' ')
		}
	}
}

// detailsItems matches the key/value list synthesized for feed postings,
// which describes the posting rather than the candidate.
const detailsItems = `ul[data-section="details"] > li`

// ExtractRequirements returns one bullet per list item. Nested lists belong
// to their own items and <br> becomes a space. Without any list items it
// falls back to paragraphs mentioning a requirement keyword.
func ExtractRequirements(markup string) []model.Requirement {
	var out []model.Requirement

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err == nil {
		doc.Find("script, style, noscript").Remove()
		doc.Find("li").Not(detailsItems).Each(func(_ int, s *goquery.Selection) {
			item := s.Clone()
			item.Find("ul, ol").Remove()
			item.Find("br").ReplaceWithNodes(&html.Node{Type: html.TextNode, Data: " "})
			if text := CollapseSpace(item.Text()); text != "" {
				out = append(out, model.Requirement{Type: "bullet", Value: text})
			}
		})
	}
	if len(out) > 0 {
		return out
	}

	for _, line := range strings.Split(HTMLToText(markup), "\n") {
		lower := strings.ToLower(line)
		for _, kw := range requirementKeywords {
			if strings.Contains(lower, kw) {
				out = append(out, model.Requirement{Type: "text", Value: line})
				break
			}
		}
	}
	return out
}

// CollapseSpace trims s and collapses internal whitespace runs to one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func joinLines(raw string) string {
	lines := strings.Split(raw, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = CollapseSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
