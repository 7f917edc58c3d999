/**
 * Structuring Engine
 *
 * Fuses recognized tokens, layout regions and reconstructed tables into a
 * StructuredDocument: typed content blocks in reading order, extracted
 * key-value pairs, a title and document metadata.
 */

package structuring

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/layout"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
	"github.com/Sireeshreddy01/structa-ai/internal/spatial"
)

const (
	// tableMatchRatio is the share of a table's area a region must cover
	tableMatchRatio = 0.5
	maxHeadingRunes = 50
	maxMetadataHits = 5
)

var (
	listMarker     = regexp.MustCompile(`^[-*•◦▪\d+.]\s*`)
	listItemMarker = regexp.MustCompile(`^[-*•◦▪\d+.]\s+`)

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`),
		regexp.MustCompile(`\d{4}[/-]\d{1,2}[/-]\d{1,2}`),
		regexp.MustCompile(`\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{1,2},?\s+\d{4}\b`),
	}
	currencyPattern = regexp.MustCompile(`[$£€¥]\s*[\d,]+\.?\d*`)
)

// Input carries everything recognized on one page
type Input struct {
	Tokens        []document.TextToken
	Regions       []document.Region
	Tables        []document.TableGrid
	AlignedTables []document.AlignedTable
	PageWidth     int
	PageHeight    int
	// Page is 1-based; zero means page 1
	Page      int
	Languages []string
}

// Engine converts page recognition results into structured documents. It
// keeps no per-call state and is safe for concurrent use.
type Engine struct {
	organizer *spatial.Organizer
	logger    *logging.Logger
}

// NewEngine creates a structuring engine; a nil organizer uses defaults
func NewEngine(organizer *spatial.Organizer) *Engine {
	if organizer == nil {
		organizer = spatial.NewOrganizer(spatial.OrganizerConfig{})
	}
	return &Engine{
		organizer: organizer,
		logger:    logging.NewLogger("StructuringEngine"),
	}
}

// Structure builds the structured document for one page
func (e *Engine) Structure(in *Input) (*document.StructuredDocument, error) {
	for i, t := range in.Tokens {
		if err := t.Validate(i); err != nil {
			return nil, err
		}
	}
	for i, r := range in.Regions {
		if err := r.Validate(i); err != nil {
			return nil, err
		}
	}

	org := e.organizer
	if in.PageHeight > 0 {
		org = org.ForPage(in.PageHeight)
	}
	page := in.Page
	if page <= 0 {
		page = 1
	}

	var blocks []document.ContentBlock
	if len(in.Regions) > 0 {
		blocks = e.regionBlocks(in, org, page)
	} else if len(in.Tokens) > 0 {
		blocks = e.lineBlocks(in.Tokens, org, page)
	}

	rawText := org.Text(in.Tokens)
	keyValues := ExtractKeyValues(rawText)

	doc := &document.StructuredDocument{
		Title:         extractTitle(blocks),
		Blocks:        blocks,
		Metadata:      buildMetadata(in, rawText, len(keyValues)),
		Tables:        make([]document.TableGrid, len(in.Tables)),
		AlignedTables: make([]document.AlignedTable, len(in.AlignedTables)),
		KeyValues:     keyValues,
		RawText:       rawText,
	}
	if doc.Blocks == nil {
		doc.Blocks = []document.ContentBlock{}
	}
	for i, t := range in.Tables {
		doc.Tables[i] = t.Clone()
	}
	for i, t := range in.AlignedTables {
		doc.AlignedTables[i] = t.Clone()
	}

	e.logger.Info("Structuring complete", "blocks", len(doc.Blocks), "key_values", len(keyValues),
		"tables", len(doc.Tables))
	return doc, nil
}

// orderedRegions returns the regions sorted by Order. When the orders are
// not a permutation of 0..n-1 the reading order is recomputed from geometry.
func (e *Engine) orderedRegions(in []document.Region) []document.Region {
	seen := make([]bool, len(in))
	for _, r := range in {
		if r.Order < 0 || r.Order >= len(in) || seen[r.Order] {
			e.logger.Warn("Region orders are not a permutation; recomputing reading order",
				"regions", len(in))
			ordered, _ := layout.AssignReadingOrder(in)
			return ordered
		}
		seen[r.Order] = true
	}

	regions := make([]document.Region, len(in))
	copy(regions, in)
	sort.Slice(regions, func(a, b int) bool { return regions[a].Order < regions[b].Order })
	return regions
}

// regionBlocks emits one block per region in reading order
func (e *Engine) regionBlocks(in *Input, org *spatial.Organizer, page int) []document.ContentBlock {
	regions := e.orderedRegions(in.Regions)

	index := spatial.NewTokenIndex(in.Tokens)
	blocks := make([]document.ContentBlock, 0, len(regions))
	for _, r := range regions {
		text := org.Text(index.Within(r.BBox))
		bbox := r.BBox
		block := document.ContentBlock{
			BBox:       &bbox,
			Confidence: r.Confidence,
			Page:       page,
			Order:      len(blocks),
		}

		switch r.Type {
		case document.RegionText, document.RegionParagraph:
			block.Type, block.Text = document.BlockParagraph, text
		case document.RegionTitle:
			block.Type, block.Text = document.BlockTitle, text
		case document.RegionList:
			block.Type, block.Items = document.BlockList, parseList(text)
		case document.RegionTable:
			if idx := matchTable(r.BBox, in.Tables); idx >= 0 {
				block.Type, block.Matrix = document.BlockTable, in.Tables[idx].Matrix()
				block.Metadata = map[string]interface{}{"table_index": idx}
			} else {
				block.Type, block.Text = document.BlockParagraph, text
				block.Metadata = map[string]interface{}{"unmatched_table": true}
			}
		case document.RegionFigure:
			block.Type, block.Text = document.BlockFigure, text
		case document.RegionEquation:
			block.Type, block.Text = document.BlockEquation, text
		case document.RegionHeader, document.RegionFooter:
			block.Type, block.Text = document.BlockMetadata, text
			block.Metadata = map[string]interface{}{"region_type": string(r.Type)}
		case document.RegionUnknown:
			fallthrough
		default:
			block.Type, block.Text = document.BlockText, text
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// lineBlocks classifies each text line when no layout is available
func (e *Engine) lineBlocks(tokens []document.TextToken, org *spatial.Organizer, page int) []document.ContentBlock {
	lines := org.Lines(tokens)
	blocks := make([]document.ContentBlock, 0, len(lines))
	for _, line := range lines {
		text := strings.TrimSpace(line.Text)
		if text == "" {
			continue
		}
		bbox := line.BBox
		block := document.ContentBlock{
			Type:       ClassifyLine(text),
			Text:       text,
			BBox:       &bbox,
			Confidence: line.Confidence,
			Page:       page,
			Order:      len(blocks),
		}
		if block.Type == document.BlockKeyValue {
			if key, value, ok := parseKeyValue(text); ok {
				block.Metadata = map[string]interface{}{"key": key, "value": value}
			}
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// ClassifyLine types a standalone line of text
func ClassifyLine(text string) document.BlockType {
	text = strings.TrimSpace(text)
	if _, _, ok := parseKeyValue(text); ok {
		return document.BlockKeyValue
	}
	if listItemMarker.MatchString(text) {
		return document.BlockListItem
	}
	if isUpper(text) && len([]rune(text)) < maxHeadingRunes {
		return document.BlockHeading
	}
	return document.BlockParagraph
}

// isUpper reports whether s has a cased letter and no lower-case letters
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}

// parseList splits region text into items with list markers removed
func parseList(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if cleaned := listMarker.ReplaceAllString(line, ""); cleaned != "" {
			items = append(items, cleaned)
		}
	}
	switch {
	case len(items) > 0:
		return items
	case text != "":
		return []string{text}
	default:
		return []string{}
	}
}

// matchTable returns the index of the first table mostly covered by
// region, or -1
func matchTable(region document.BoundingBox, tables []document.TableGrid) int {
	for i, t := range tables {
		area := t.BBox.Area()
		if area <= 0 {
			continue
		}
		overlap := region.Intersect(t.BBox).Area()
		if float64(overlap)/float64(area) > tableMatchRatio {
			return i
		}
	}
	return -1
}

func extractTitle(blocks []document.ContentBlock) string {
	for _, b := range blocks {
		if b.Type == document.BlockTitle {
			return b.Text
		}
	}
	for _, b := range blocks {
		if b.Type == document.BlockHeading {
			return b.Text
		}
	}
	return ""
}

func buildMetadata(in *Input, rawText string, numKeyValues int) document.Metadata {
	md := document.Metadata{
		Languages:    in.Languages,
		PageSize:     [2]int{in.PageWidth, in.PageHeight},
		NumRegions:   len(in.Regions),
		NumTables:    len(in.Tables),
		NumKeyValues: numKeyValues,
	}

	if len(in.Tokens) > 0 {
		var sum float64
		for _, t := range in.Tokens {
			sum += t.Confidence
		}
		md.OCRConfidence = sum / float64(len(in.Tokens))
	}

	if len(md.Languages) == 0 {
		seen := make(map[string]bool)
		for _, t := range in.Tokens {
			if t.Language != "" && !seen[t.Language] {
				seen[t.Language] = true
				md.Languages = append(md.Languages, t.Language)
			}
		}
	}
	md.Languages = append([]string{}, md.Languages...)

	for _, r := range in.Regions {
		switch r.Type {
		case document.RegionTable:
			md.HasTables = true
		case document.RegionFigure:
			md.HasFigures = true
		}
	}

	for _, p := range datePatterns {
		md.DatesFound = append(md.DatesFound, p.FindAllString(rawText, -1)...)
	}
	if len(md.DatesFound) > maxMetadataHits {
		md.DatesFound = md.DatesFound[:maxMetadataHits]
	}
	md.CurrencyValues = currencyPattern.FindAllString(rawText, maxMetadataHits)
	return md
}
