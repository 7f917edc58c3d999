package layout

import (
	"context"
	"fmt"
	"testing"

	"cloud.google.com/go/documentai/apiv1/documentaipb"

	"github.com/Sireeshreddy01/structa-ai/internal/clients"
	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/imaging"
)

func page(t *testing.T, w, h int, ink ...document.BoundingBox) *imaging.Raster {
	t.Helper()
	img, err := imaging.NewRaster(w, h, 1)
	if err != nil {
		t.Fatalf("NewRaster() error = %v", err)
	}
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for _, box := range ink {
		for y := box.Y; y < box.Bottom(); y++ {
			for x := box.X; x < box.Right(); x++ {
				img.Set(x, y, 0, 0)
			}
		}
	}
	return img
}

func TestClassifyBlock(t *testing.T) {
	tests := []struct {
		name string
		box  document.BoundingBox
		want document.RegionType
	}{
		{"wide strip near top", document.BoundingBox{X: 0, Y: 50, Width: 800, Height: 40}, document.RegionHeader},
		{"wide strip near bottom", document.BoundingBox{X: 0, Y: 900, Width: 800, Height: 40}, document.RegionFooter},
		{"wide strip in body", document.BoundingBox{X: 0, Y: 500, Width: 800, Height: 40}, document.RegionParagraph},
		{"large block", document.BoundingBox{X: 0, Y: 300, Width: 700, Height: 400}, document.RegionTable},
		{"small square", document.BoundingBox{X: 100, Y: 300, Width: 150, Height: 150}, document.RegionFigure},
		{"medium block", document.BoundingBox{X: 100, Y: 300, Width: 400, Height: 200}, document.RegionParagraph},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyBlock(tt.box, 1000, 1000); got != tt.want {
				t.Errorf("ClassifyBlock(%+v) = %s, want %s", tt.box, got, tt.want)
			}
		})
	}
}

func TestHeuristicSegmentSyntheticPage(t *testing.T) {
	img := page(t, 400, 500,
		document.BoundingBox{X: 40, Y: 20, Width: 320, Height: 10},
		document.BoundingBox{X: 40, Y: 200, Width: 320, Height: 60},
		document.BoundingBox{X: 200, Y: 300, Width: 20, Height: 100},
		document.BoundingBox{X: 40, Y: 460, Width: 320, Height: 7},
	)

	result, err := NewAnalyzer(nil).Analyze(context.Background(), img)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	want := []document.RegionType{
		document.RegionHeader, document.RegionParagraph, document.RegionFigure, document.RegionFooter,
	}
	if len(result.Regions) != len(want) {
		t.Fatalf("Analyze() found %d regions, want %d: %+v", len(result.Regions), len(want), result.Regions)
	}
	for i, r := range result.Regions {
		if r.Type != want[i] {
			t.Errorf("region %d type = %s, want %s", i, r.Type, want[i])
		}
		if r.Order != i {
			t.Errorf("region %d order = %d", i, r.Order)
		}
		if r.Confidence != HeuristicConfidence {
			t.Errorf("region %d confidence = %v", i, r.Confidence)
		}
	}
	if result.Source != SourceHeuristic || !result.HasFigures || result.HasTables {
		t.Errorf("Analyze() = source %s figures %v tables %v", result.Source, result.HasFigures, result.HasTables)
	}
}

func TestHeuristicSegmentBlankPage(t *testing.T) {
	regions, err := NewHeuristicSegmenter().Segment(context.Background(), page(t, 100, 100))
	if err != nil {
		t.Fatalf("Segment() error = %v", err)
	}
	if len(regions) != 0 {
		t.Errorf("Segment() on blank page = %d regions", len(regions))
	}
}

func TestHeuristicSegmentRejectsBadImage(t *testing.T) {
	_, err := NewHeuristicSegmenter().Segment(context.Background(), &imaging.Raster{})
	if !errors.Is(err, errors.ErrorInvalidImage) {
		t.Errorf("Segment() error = %v, want INVALID_IMAGE", err)
	}
}

func TestAssignReadingOrder(t *testing.T) {
	regions := []document.Region{
		{Type: document.RegionParagraph, BBox: document.BoundingBox{X: 0, Y: 150, Width: 400, Height: 50}},
		{Type: document.RegionParagraph, BBox: document.BoundingBox{X: 210, Y: 10, Width: 190, Height: 100}},
		{Type: document.RegionTitle, BBox: document.BoundingBox{X: 0, Y: 0, Width: 190, Height: 100}},
	}

	ordered, order := AssignReadingOrder(regions)
	if fmt.Sprint(order) != "[2 1 0]" {
		t.Fatalf("order = %v, want [2 1 0]", order)
	}
	for i, r := range ordered {
		if r.Order != i {
			t.Errorf("ordered[%d].Order = %d", i, r.Order)
		}
	}
	if regions[0].Order != 0 || regions[1].Order != 0 {
		t.Error("AssignReadingOrder() modified its input")
	}

	seen := make(map[int]bool)
	for _, idx := range order {
		seen[idx] = true
	}
	if len(seen) != len(regions) {
		t.Errorf("order %v is not a permutation", order)
	}
}

func TestAssignReadingOrderSeparateRowsTopDown(t *testing.T) {
	var regions []document.Region
	for i := 4; i >= 0; i-- {
		regions = append(regions, document.Region{BBox: document.BoundingBox{X: 100 - i*10, Y: i * 100, Width: 50, Height: 50}})
	}
	ordered, _ := AssignReadingOrder(regions)
	for i := 1; i < len(ordered); i++ {
		if ordered[i].BBox.Y <= ordered[i-1].BBox.Y {
			t.Errorf("row %d at y=%d read before row at y=%d", i, ordered[i].BBox.Y, ordered[i-1].BBox.Y)
		}
	}
}

func TestAssignReadingOrderEmpty(t *testing.T) {
	ordered, order := AssignReadingOrder(nil)
	if len(ordered) != 0 || len(order) != 0 {
		t.Errorf("AssignReadingOrder(nil) = %v, %v", ordered, order)
	}
}

type fakeSegmenter struct {
	regions []document.Region
	err     error
}

func (f *fakeSegmenter) Name() string { return SourceMageAgent }

func (f *fakeSegmenter) Segment(context.Context, *imaging.Raster) ([]document.Region, error) {
	return f.regions, f.err
}

func TestAnalyzerFallsBackToHeuristic(t *testing.T) {
	img := page(t, 400, 500, document.BoundingBox{X: 40, Y: 200, Width: 320, Height: 60})
	tests := []struct {
		name string
		seg  *fakeSegmenter
	}{
		{"primary error", &fakeSegmenter{err: fmt.Errorf("service unavailable")}},
		{"primary empty", &fakeSegmenter{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NewAnalyzer(tt.seg).Analyze(context.Background(), img)
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if result.Source != SourceHeuristic || len(result.Regions) != 1 {
				t.Errorf("Analyze() source = %s regions = %d", result.Source, len(result.Regions))
			}
		})
	}
}

func TestAnalyzerUsesPrimaryAndClampsRegions(t *testing.T) {
	seg := &fakeSegmenter{regions: []document.Region{
		{Type: document.RegionTable, BBox: document.BoundingBox{X: 300, Y: 400, Width: 500, Height: 500}, Confidence: 1.4},
		{Type: document.RegionText, BBox: document.BoundingBox{X: 900, Y: 900, Width: 10, Height: 10}},
	}}
	result, err := NewAnalyzer(seg).Analyze(context.Background(), page(t, 400, 500))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if result.Source != SourceMageAgent || len(result.Regions) != 1 {
		t.Fatalf("Analyze() source = %s regions = %+v", result.Source, result.Regions)
	}
	got := result.Regions[0]
	want := document.BoundingBox{X: 300, Y: 400, Width: 100, Height: 100}
	if got.BBox != want || got.Confidence != 1 || !result.HasTables {
		t.Errorf("region = %+v, want bbox %+v confidence 1", got, want)
	}
}

func TestAnalyzerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAnalyzer(nil).Analyze(ctx, page(t, 50, 50))
	if !errors.Is(err, errors.ErrorLayoutFailed) {
		t.Errorf("Analyze() error = %v, want LAYOUT_FAILED", err)
	}
}

func TestMapElementType(t *testing.T) {
	tests := map[string]document.RegionType{
		"heading":     document.RegionTitle,
		"paragraph":   document.RegionParagraph,
		"list":        document.RegionList,
		"table":       document.RegionTable,
		"image":       document.RegionFigure,
		"caption":     document.RegionText,
		"page_number": document.RegionFooter,
		"equation":    document.RegionEquation,
		"sidebar":     document.RegionText,
	}
	for in, want := range tests {
		if got := MapElementType(in); got != want {
			t.Errorf("MapElementType(%q) = %s, want %s", in, got, want)
		}
	}
}

type fakeLayoutAPI struct {
	resp *clients.LayoutAnalysisResponse
}

func (f *fakeLayoutAPI) AnalyzeLayoutFromBytes(ctx context.Context, data []byte, language string) (*clients.LayoutAnalysisResponse, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return f.resp, nil
}

func TestMageAgentSegmenter(t *testing.T) {
	resp := &clients.LayoutAnalysisResponse{Success: true}
	resp.Data.Elements = []clients.LayoutElement{
		{Type: "heading", Content: "Invoice", Confidence: 0.9,
			BoundingBox: clients.LayoutBoundingBox{X: 10, Y: 10, Width: 100, Height: 20}},
		{Type: "table", Confidence: 0.8,
			BoundingBox: clients.LayoutBoundingBox{X: 10, Y: 50, Width: 200, Height: 100}},
	}
	regions, err := NewMageAgentSegmenter(&fakeLayoutAPI{resp: resp}, "").Segment(context.Background(), page(t, 300, 300))
	if err != nil {
		t.Fatalf("Segment() error = %v", err)
	}
	if len(regions) != 2 || regions[0].Type != document.RegionTitle || regions[0].Content != "Invoice" ||
		regions[1].Type != document.RegionTable {
		t.Errorf("Segment() = %+v", regions)
	}
}

type fakeProcessor struct {
	doc *documentaipb.Document
}

func (f *fakeProcessor) ProcessImage(context.Context, []byte) (*documentaipb.Document, error) {
	return f.doc, nil
}

func normalizedLayout(x1, y1, x2, y2 float32, start, end int64) *documentaipb.Document_Page_Layout {
	return &documentaipb.Document_Page_Layout{
		Confidence: 0.9,
		BoundingPoly: &documentaipb.BoundingPoly{NormalizedVertices: []*documentaipb.NormalizedVertex{
			{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2},
		}},
		TextAnchor: &documentaipb.Document_TextAnchor{TextSegments: []*documentaipb.Document_TextAnchor_TextSegment{
			{StartIndex: start, EndIndex: end},
		}},
	}
}

func TestDocumentAISegmenter(t *testing.T) {
	doc := &documentaipb.Document{
		Text: "Quarterly report\nA | B",
		Pages: []*documentaipb.Document_Page{{
			Blocks: []*documentaipb.Document_Page_Block{
				{Layout: normalizedLayout(0.1, 0.0, 0.9, 0.1, 0, 16)},
				{Layout: normalizedLayout(0.2, 0.5, 0.4, 0.6, 17, 22)},
			},
			Tables: []*documentaipb.Document_Page_Table{
				{Layout: normalizedLayout(0.1, 0.4, 0.9, 0.8, 17, 22)},
			},
			VisualElements: []*documentaipb.Document_Page_VisualElement{
				{Type: "math_formula", Layout: normalizedLayout(0.1, 0.85, 0.3, 0.95, 0, 0)},
			},
		}},
	}
	regions, err := NewDocumentAISegmenter(&fakeProcessor{doc: doc}).Segment(context.Background(), page(t, 100, 100))
	if err != nil {
		t.Fatalf("Segment() error = %v", err)
	}

	counts := make(map[document.RegionType]int)
	for _, r := range regions {
		counts[r.Type]++
		if r.Type == document.RegionParagraph && r.Content != "Quarterly report" {
			t.Errorf("paragraph content = %q", r.Content)
		}
	}
	// the second block lies inside the table and is dropped
	if counts[document.RegionParagraph] != 1 || counts[document.RegionTable] != 1 || counts[document.RegionEquation] != 1 {
		t.Errorf("region counts = %v", counts)
	}
}

func TestDocumentAISegmenterNoPages(t *testing.T) {
	regions, err := NewDocumentAISegmenter(&fakeProcessor{doc: &documentaipb.Document{}}).Segment(context.Background(), page(t, 10, 10))
	if err != nil || len(regions) != 0 {
		t.Errorf("Segment() = %v, %v", regions, err)
	}
}
