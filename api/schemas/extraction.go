package schemas

import "fmt"

// ExtractionMode selects how page content is turned into an ExtractionResult.
type ExtractionMode string

const (
	// ModePlain parses the document tolerantly and returns cleaned text,
	// partitioned links, and images.
	ModePlain ExtractionMode = "plain"
	// ModeStructured extracts a list of records driven by a CSS schema.
	ModeStructured ExtractionMode = "structured"
	// ModeInstruction delegates extraction to a natural-language backend.
	ModeInstruction ExtractionMode = "instruction"
)

// SchemaField maps one named field of a record to a CSS selector relative to
// the base selector. Type is "text" (element text) or "attribute" (a named
// attribute value).
type SchemaField struct {
	Name      string `json:"name"`
	Selector  string `json:"selector"`
	Type      string `json:"type"`
	Attribute string `json:"attribute,omitempty"`
}

// ExtractionSchema describes schema-driven structured extraction: one record
// is produced per BaseSelector match, in document order.
type ExtractionSchema struct {
	Name         string        `json:"name"`
	BaseSelector string        `json:"baseSelector"`
	Fields       []SchemaField `json:"fields"`
}

// Validate rejects schemas that cannot drive an extraction.
func (s *ExtractionSchema) Validate() error {
	if s.BaseSelector == "" {
		return fmt.Errorf("extraction schema %q: baseSelector is required", s.Name)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("extraction schema %q: at least one field is required", s.Name)
	}
	for i, f := range s.Fields {
		if f.Name == "" || f.Selector == "" {
			return fmt.Errorf("extraction schema %q: field %d needs both name and selector", s.Name, i)
		}
		switch f.Type {
		case "", "text":
		case "attribute":
			if f.Attribute == "" {
				return fmt.Errorf("extraction schema %q: field %q has type attribute but no attribute name", s.Name, f.Name)
			}
		default:
			return fmt.Errorf("extraction schema %q: field %q has unknown type %q", s.Name, f.Name, f.Type)
		}
	}
	return nil
}

// Link is one hyperlink discovered during plain extraction.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// LinkSet partitions discovered links by origin. Internal links are relative
// or share the page origin; external links point elsewhere.
type LinkSet struct {
	Internal []Link `json:"internal"`
	External []Link `json:"external"`
}

// Image is one image reference discovered during plain extraction.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// ExtractionResult is the outcome of one extraction call. It is never mutated
// after return and is never partially populated: Success=false implies Error
// is set and the content fields are zero.
type ExtractionResult struct {
	Success bool    `json:"success"`
	URL     string  `json:"url,omitempty"`
	Title   string  `json:"title,omitempty"`
	Text    string  `json:"content,omitempty"`
	Links   LinkSet `json:"links"`
	Images  []Image `json:"images,omitempty"`

	// Records holds schema-driven structured data, one map per base-selector
	// match, in document order.
	Records []map[string]string `json:"structured_data,omitempty"`

	// Instructed holds the verbatim output of the natural-language backend.
	Instructed string `json:"ai_extracted,omitempty"`

	Error string `json:"error,omitempty"`
}
