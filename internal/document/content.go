package document

import "encoding/json"

// BlockType classifies a structured content block
type BlockType string

const (
	BlockText      BlockType = "text"
	BlockTitle     BlockType = "title"
	BlockHeading   BlockType = "heading"
	BlockParagraph BlockType = "paragraph"
	BlockList      BlockType = "list"
	BlockListItem  BlockType = "list_item"
	BlockTable     BlockType = "table"
	BlockKeyValue  BlockType = "key_value"
	BlockFigure    BlockType = "figure"
	BlockEquation  BlockType = "equation"
	BlockCode      BlockType = "code"
	BlockMetadata  BlockType = "metadata"
)

// ContentBlock is one structured unit of document content. Exactly one of
// Text, Items or Matrix carries the content, according to Type: list blocks
// use Items, table blocks use Matrix, everything else uses Text.
type ContentBlock struct {
	Type       BlockType
	Text       string
	Items      []string
	Matrix     [][]string
	BBox       *BoundingBox
	Confidence float64
	Page       int
	Order      int
	Metadata   map[string]interface{}
}

// Content returns whichever variant the block carries
func (b ContentBlock) Content() interface{} {
	switch {
	case b.Matrix != nil:
		return b.Matrix
	case b.Items != nil:
		return b.Items
	default:
		return b.Text
	}
}

type contentBlockJSON struct {
	Type       BlockType              `json:"type"`
	Content    json.RawMessage        `json:"content"`
	BBox       *BoundingBox           `json:"bbox,omitempty"`
	Confidence float64                `json:"confidence"`
	Page       int                    `json:"page"`
	Order      int                    `json:"order"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// MarshalJSON emits content as a string, a string list or a string matrix
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	content, err := json.Marshal(b.Content())
	if err != nil {
		return nil, err
	}
	return json.Marshal(contentBlockJSON{
		Type:       b.Type,
		Content:    content,
		BBox:       b.BBox,
		Confidence: b.Confidence,
		Page:       b.Page,
		Order:      b.Order,
		Metadata:   b.Metadata,
	})
}

// UnmarshalJSON restores the content variant from its JSON shape
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var raw contentBlockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = ContentBlock{
		Type:       raw.Type,
		BBox:       raw.BBox,
		Confidence: raw.Confidence,
		Page:       raw.Page,
		Order:      raw.Order,
		Metadata:   raw.Metadata,
	}
	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		return nil
	}
	switch raw.Content[0] {
	case '"':
		return json.Unmarshal(raw.Content, &b.Text)
	case '[':
		var items []string
		if err := json.Unmarshal(raw.Content, &items); err == nil {
			b.Items = items
			return nil
		}
		return json.Unmarshal(raw.Content, &b.Matrix)
	}
	return nil
}

// Metadata summarizes a structured document
type Metadata struct {
	OCRConfidence  float64  `json:"ocr_confidence"`
	Languages      []string `json:"languages"`
	PageSize       [2]int   `json:"page_size"`
	HasTables      bool     `json:"has_tables"`
	HasFigures     bool     `json:"has_figures"`
	NumRegions     int      `json:"num_regions"`
	NumTables      int      `json:"num_tables"`
	NumKeyValues   int      `json:"num_key_values"`
	DatesFound     []string `json:"dates_found,omitempty"`
	CurrencyValues []string `json:"currency_values,omitempty"`
}

// StructuredDocument is the final output handed to renderers. It owns all
// nested collections; producers must not retain references into it.
type StructuredDocument struct {
	Title         string                 `json:"title,omitempty"`
	Blocks        []ContentBlock         `json:"blocks"`
	Metadata      Metadata               `json:"metadata"`
	Tables        []TableGrid            `json:"tables"`
	AlignedTables []AlignedTable         `json:"aligned_tables"`
	KeyValues     map[string]interface{} `json:"key_values"`
	RawText       string                 `json:"raw_text"`
}

// BlocksOfType returns the blocks with the given type in emission order
func (d *StructuredDocument) BlocksOfType(t BlockType) []ContentBlock {
	var out []ContentBlock
	for _, b := range d.Blocks {
		if b.Type == t {
			out = append(out, b)
		}
	}
	return out
}
