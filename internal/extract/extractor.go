package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/mpetrunic88/webrover/api/schemas"
)

// maxInstructionChars bounds how much page text is handed to the language
// model in instruction mode.
const maxInstructionChars = 60000

// parseDoc parses an HTML document tolerantly. html.Parse never fails on
// malformed markup, only on reader errors.
func parseDoc(content string) (*goquery.Document, error) {
	node, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromNode(node), nil
}

// Adapter turns raw HTML into ExtractionResults. It is stateless and safe
// for concurrent use; the language model client is only touched by
// instruction mode.
type Adapter struct {
	llm    schemas.LLMClient
	logger *zap.Logger
}

// NewAdapter builds an Adapter. llm may be nil when instruction mode is not
// needed; calling ExtractWithInstruction without one fails cleanly.
func NewAdapter(llm schemas.LLMClient, logger *zap.Logger) *Adapter {
	return &Adapter{llm: llm, logger: logger.Named("extract")}
}

// ExtractPlain parses the document tolerantly and returns its cleaned text,
// links partitioned into internal and external, and image references.
// Malformed HTML never fails the call; whatever parses is returned.
func (a *Adapter) ExtractPlain(html, baseURL string) schemas.ExtractionResult {
	doc, err := parseDoc(html)
	if err != nil {
		return failResult(baseURL, fmt.Sprintf("failed to parse HTML: %v", err))
	}

	res := schemas.ExtractionResult{
		Success: true,
		URL:     baseURL,
		Title:   strings.TrimSpace(doc.Find("title").First().Text()),
		Text:    cleanText(doc),
		Links:   collectLinks(doc, baseURL),
		Images:  collectImages(doc),
	}
	return res
}

// ExtractStructured produces one record per base-selector match, in document
// order. A field whose selector matches nothing within its record yields an
// empty string, never an error.
func (a *Adapter) ExtractStructured(html, baseURL string, schema schemas.ExtractionSchema) schemas.ExtractionResult {
	if err := schema.Validate(); err != nil {
		return failResult(baseURL, err.Error())
	}

	doc, err := parseDoc(html)
	if err != nil {
		return failResult(baseURL, fmt.Sprintf("failed to parse HTML: %v", err))
	}

	records := make([]map[string]string, 0)
	doc.Find(schema.BaseSelector).Each(func(_ int, base *goquery.Selection) {
		record := make(map[string]string, len(schema.Fields))
		for _, field := range schema.Fields {
			record[field.Name] = fieldValue(base, field)
		}
		records = append(records, record)
	})

	a.logger.Debug("Structured extraction finished.",
		zap.String("schema", schema.Name), zap.Int("records", len(records)))

	return schemas.ExtractionResult{
		Success: true,
		URL:     baseURL,
		Title:   strings.TrimSpace(doc.Find("title").First().Text()),
		Records: records,
	}
}

// ExtractWithInstruction hands the page text to the language model together
// with the caller's instruction and returns the model output verbatim. The
// adapter adds no interpretation of its own.
func (a *Adapter) ExtractWithInstruction(ctx context.Context, html, baseURL, instruction string) schemas.ExtractionResult {
	if a.llm == nil {
		return failResult(baseURL, "instruction extraction requires a language model backend")
	}
	if strings.TrimSpace(instruction) == "" {
		return failResult(baseURL, "instruction must not be empty")
	}

	doc, err := parseDoc(html)
	if err != nil {
		return failResult(baseURL, fmt.Sprintf("failed to parse HTML: %v", err))
	}

	text := cleanText(doc)
	if len(text) > maxInstructionChars {
		text = text[:maxInstructionChars]
	}

	out, err := a.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: "You extract data from web page content. Answer using only the provided page text. If the requested data is not present, say so.",
		UserPrompt:   fmt.Sprintf("Instruction: %s\n\nPage URL: %s\n\nPage text:\n%s", instruction, baseURL, text),
		Temperature:  0.1,
	})
	if err != nil {
		return failResult(baseURL, fmt.Sprintf("language model extraction failed: %v", err))
	}

	return schemas.ExtractionResult{
		Success:    true,
		URL:        baseURL,
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		Instructed: out,
	}
}

// cleanText returns the page's visible text with scripts and styles removed
// and whitespace normalized to single-space separated lines.
func cleanText(doc *goquery.Document) string {
	clone := doc.Clone()
	clone.Find("script, style, noscript, template").Remove()

	root := clone.Find("body")
	if root.Length() == 0 {
		root = clone
	}

	var lines []string
	for _, raw := range strings.Split(root.Text(), "\n") {
		line := strings.Join(strings.Fields(raw), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// collectLinks gathers every hyperlink and partitions it by origin: relative
// links and links sharing the page's scheme and host are internal, the rest
// external. Hrefs are kept as written.
func collectLinks(doc *goquery.Document, baseURL string) schemas.LinkSet {
	links := schemas.LinkSet{Internal: []schemas.Link{}, External: []schemas.Link{}}
	base, _ := url.Parse(baseURL)

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		link := schemas.Link{URL: href, Text: strings.TrimSpace(sel.Text())}
		if isInternal(href, base) {
			links.Internal = append(links.Internal, link)
		} else {
			links.External = append(links.External, link)
		}
	})
	return links
}

// isInternal reports whether href stays on the page's origin. With no usable
// base URL, only relative hrefs count as internal.
func isInternal(href string, base *url.URL) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	if u.Host == "" {
		return !u.IsAbs()
	}
	if base == nil || base.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, base.Host)
}

func collectImages(doc *goquery.Document) []schemas.Image {
	var images []schemas.Image
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src := strings.TrimSpace(sel.AttrOr("src", ""))
		if src == "" {
			return
		}
		images = append(images, schemas.Image{Src: src, Alt: sel.AttrOr("alt", "")})
	})
	return images
}

// fieldValue resolves one schema field within a record's base selection.
func fieldValue(base *goquery.Selection, field schemas.SchemaField) string {
	target := base.Find(field.Selector).First()
	if target.Length() == 0 {
		return ""
	}
	if field.Type == "attribute" {
		return strings.TrimSpace(target.AttrOr(field.Attribute, ""))
	}
	return strings.TrimSpace(target.Text())
}

func failResult(baseURL, msg string) schemas.ExtractionResult {
	return schemas.ExtractionResult{Success: false, URL: baseURL, Error: msg}
}
