package ocr

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/encoding/charmap"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
)

// ParseHOCR extracts ocrx_word elements as tokens. Word confidence is the
// x_wconf value divided by 100; words below minConfidence are dropped. A
// word's language is its own lang attribute or the nearest ancestor's.
func ParseHOCR(data []byte, minConfidence float64) ([]document.TextToken, error) {
	decoded, err := decodeHOCR(data)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(decoded))
	if err != nil {
		return nil, fmt.Errorf("failed to parse hOCR: %w", err)
	}

	var tokens []document.TextToken
	pages := 0

	var walk func(n *html.Node, lang string)
	walk = func(n *html.Node, lang string) {
		if n.Type == html.ElementNode {
			if l := attrVal(n, "lang"); l != "" {
				lang = l
			}
			class := attrVal(n, "class")
			if strings.Contains(class, "ocr_page") {
				pages++
			}
			if strings.Contains(class, "ocrx_word") {
				if tok, ok := parseWord(n, lang); ok && tok.Confidence >= minConfidence {
					tokens = append(tokens, tok)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, lang)
		}
	}
	walk(doc, "")

	if pages == 0 {
		return nil, fmt.Errorf("no ocr_page elements found in hOCR data")
	}
	return tokens, nil
}

// decodeHOCR converts Latin-1 output to UTF-8 when the document says so
func decodeHOCR(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("charset="))
	if idx < 0 {
		return data, nil
	}
	rest := string(data[idx+len("charset="):])
	fields := strings.FieldsFunc(rest, func(r rune) bool {
		return r == '"' || r == ';' || r == '\'' || r == '>' || r == ' '
	})
	if len(fields) == 0 {
		return data, nil
	}
	switch strings.ToLower(fields[0]) {
	case "iso-8859-1", "latin1", "latin-1":
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", fields[0], err)
		}
		return decoded, nil
	}
	return data, nil
}

func parseWord(n *html.Node, lang string) (document.TextToken, bool) {
	text := strings.TrimSpace(textContent(n))
	if text == "" {
		return document.TextToken{}, false
	}
	props := parseTitle(attrVal(n, "title"))

	bbox, ok := props["bbox"]
	if !ok || len(bbox) < 4 {
		return document.TextToken{}, false
	}
	var c [4]int
	for i := range c {
		v, err := strconv.Atoi(bbox[i])
		if err != nil {
			return document.TextToken{}, false
		}
		c[i] = v
	}

	conf := 0.0
	if v, ok := props["x_wconf"]; ok && len(v) > 0 {
		if f, err := strconv.ParseFloat(v[0], 64); err == nil {
			conf = f / 100
		}
	}
	if v, ok := props["lang"]; ok && len(v) > 0 {
		lang = v[0]
	}

	return document.TextToken{
		Text:       text,
		Confidence: min(max(conf, 0), 1),
		BBox:       document.NewBoundingBoxFromCorners(c[0], c[1], c[2], c[3]),
		Language:   lang,
	}, true
}

// parseTitle splits "bbox 1 2 3 4; x_wconf 95" into keyed fields
func parseTitle(title string) map[string][]string {
	out := make(map[string][]string)
	for _, part := range strings.Split(title, ";") {
		items := strings.Fields(part)
		if len(items) > 0 {
			out[items[0]] = items[1:]
		}
	}
	return out
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
