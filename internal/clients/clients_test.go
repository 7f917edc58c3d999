package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/documentai/apiv1/documentaipb"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/errors"
)

func TestMageAgentAnalyzeLayout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/internal/vision/analyze-layout" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req VisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Format != "base64" || req.Image != "AQID" {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"data":{"elements":[
			{"id":1,"type":"heading","boundingBox":{"x":10,"y":20,"width":300,"height":40},"confidence":0.93}
		],"readingOrder":[1],"confidence":0.9,"modelUsed":"vision-x"}}`)
	}))
	defer server.Close()

	c := NewMageAgentClient(server.URL)
	resp, err := c.AnalyzeLayoutFromBytes(context.Background(), []byte{1, 2, 3}, "en")
	if err != nil {
		t.Fatalf("AnalyzeLayoutFromBytes() error = %v", err)
	}
	if len(resp.Data.Elements) != 1 || resp.Data.Elements[0].Type != "heading" {
		t.Errorf("elements = %+v", resp.Data.Elements)
	}
	if resp.Data.Elements[0].BoundingBox.Width != 300 {
		t.Errorf("bbox = %+v", resp.Data.Elements[0].BoundingBox)
	}
}

func TestMageAgentErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewMageAgentClient(server.URL).ExtractTableFromBytes(context.Background(), []byte{1}, "en")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, errors.ErrorAPICallFailed) {
		t.Errorf("error code = %v, want API_CALL_FAILED", err)
	}
}

func TestMageAgentTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewMageAgentClient(server.URL)
	client.httpClient.Timeout = 20 * time.Millisecond

	_, err := client.ExtractTableFromBytes(context.Background(), []byte{1}, "en")
	if !errors.Is(err, errors.ErrorNetworkTimeout) {
		t.Errorf("error = %v, want NETWORK_TIMEOUT", err)
	}
}

func TestMageAgentUnsuccessfulBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false,"message":"no table"}`)
	}))
	defer server.Close()

	if _, err := NewMageAgentClient(server.URL).ExtractTableFromBytes(context.Background(), []byte{1}, "en"); err == nil {
		t.Error("expected error for success=false")
	}
}

func TestMageAgentHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if err := NewMageAgentClient(server.URL).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestRendererPublish(t *testing.T) {
	var got RenderRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Job-ID") != "job-1" {
			t.Errorf("X-Job-ID = %q", r.Header.Get("X-Job-ID"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"success":true,"artifactId":"a-1"}`)
	}))
	defer server.Close()

	doc := &document.StructuredDocument{Title: "Invoice", Blocks: []document.ContentBlock{{Type: document.BlockTitle, Text: "Invoice"}}}
	resp, err := NewRendererClient(server.URL).Publish(context.Background(), &RenderRequest{JobID: "job-1", DocumentID: "d-1", Document: doc})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !resp.Success || resp.ArtifactID != "a-1" {
		t.Errorf("response = %+v", resp)
	}
	if got.Document == nil || got.Document.Title != "Invoice" {
		t.Errorf("sink received %+v", got)
	}
}

func TestRendererPublishRequiresDocument(t *testing.T) {
	_, err := NewRendererClient("http://unused").Publish(context.Background(), &RenderRequest{JobID: "j"})
	if !errors.Is(err, errors.ErrorInvalidInput) {
		t.Errorf("error = %v, want INVALID_INPUT", err)
	}
}

func TestLayoutBox(t *testing.T) {
	layout := &documentaipb.Document_Page_Layout{
		BoundingPoly: &documentaipb.BoundingPoly{
			NormalizedVertices: []*documentaipb.NormalizedVertex{
				{X: 0.1, Y: 0.2}, {X: 0.5, Y: 0.2}, {X: 0.5, Y: 0.4}, {X: 0.1, Y: 0.4},
			},
		},
	}
	box, ok := LayoutBox(layout, 1000, 500)
	if !ok {
		t.Fatal("LayoutBox() not ok")
	}
	want := document.BoundingBox{X: 100, Y: 100, Width: 400, Height: 100}
	if box != want {
		t.Errorf("LayoutBox() = %+v, want %+v", box, want)
	}

	if _, ok := LayoutBox(&documentaipb.Document_Page_Layout{}, 100, 100); ok {
		t.Error("LayoutBox() without polygon should not be ok")
	}
}

func TestLayoutText(t *testing.T) {
	text := "Invoice Total: 42\nThanks"
	layout := &documentaipb.Document_Page_Layout{
		TextAnchor: &documentaipb.Document_TextAnchor{
			TextSegments: []*documentaipb.Document_TextAnchor_TextSegment{{StartIndex: 8, EndIndex: 17}},
		},
	}
	if got := LayoutText(layout, text); got != "Total: 42" {
		t.Errorf("LayoutText() = %q", got)
	}
	if got := LayoutText(nil, text); got != "" {
		t.Errorf("LayoutText(nil) = %q", got)
	}
}
