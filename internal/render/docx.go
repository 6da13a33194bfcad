// Package render fills named placeholders in a docx template with text
// values and inline images.
//
// A docx file is a zip archive of XML parts. Placeholders use the
// {{name}} form inside the document text. Word may split a placeholder
// across several runs while the author types it, so the renderer first
// collapses tag-interrupted tokens back into a single run before
// binding values.
package render

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"regexp"
	"sort"
	"strings"

	_ "image/jpeg"
	_ "image/png"
)

// Sentinel errors for template rendering failures.
var (
	ErrMalformedTemplate = errors.New("malformed docx template")
	ErrNotAnImage        = errors.New("image placeholder bound to non-image data")
)

// EMUPerMM is the number of English Metric Units per millimeter, the
// length unit WordprocessingML uses for drawing extents.
const EMUPerMM = 36000

// DefaultImageWidthMM is the display width used when an Image does not
// specify one.
const DefaultImageWidthMM = 30

// Image is an embedded-image binding. The display width is fixed; the
// height follows from the source aspect ratio.
type Image struct {
	Data    []byte
	WidthMM int
}

// Context carries the bindings for one render call. Fields bind
// placeholders to literal text, Images to inline pictures. Placeholders
// present in the template but absent from the context bind to the
// empty string.
type Context struct {
	Fields map[string]string
	Images map[string]Image
}

const (
	documentPart     = "word/document.xml"
	documentRelsPart = "word/_rels/document.xml.rels"
	contentTypesPart = "[Content_Types].xml"

	relationshipTypeImage = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
)

var (
	// A token interrupted by XML tags: [^{}] matches tag characters
	// but not braces, so anyToken captures the whole split token.
	splitOpenBrace  = regexp.MustCompile(`\{(?:<[^>]*>)+\{`)
	splitCloseBrace = regexp.MustCompile(`\}(?:<[^>]*>)+\}`)
	anyToken        = regexp.MustCompile(`\{\{[^{}]*\}\}`)
	innerTags       = regexp.MustCompile(`<[^>]*>`)

	textPartName   = regexp.MustCompile(`^word/(document|header\d*|footer\d*)\.xml$`)
	relationshipID = regexp.MustCompile(`Id="rId(\d+)"`)
)

// Render merges the context into the docx template and returns the
// finished document bytes. The template bytes are not modified.
func Render(template []byte, ctx Context) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(template), int64(len(template)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
	}

	parts := make(map[string][]byte, len(reader.File))
	order := make([]string, 0, len(reader.File))
	for _, f := range reader.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
		}
		parts[f.Name] = data
		order = append(order, f.Name)
	}

	if _, ok := parts[documentPart]; !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedTemplate, documentPart)
	}

	for _, name := range order {
		if textPartName.MatchString(name) {
			parts[name] = normalizeTokens(parts[name])
		}
	}

	// Inline images bind in the document body only.
	if err := embedImages(parts, &order, ctx.Images); err != nil {
		return nil, err
	}

	for _, name := range order {
		if !textPartName.MatchString(name) {
			continue
		}
		doc := parts[name]
		for key, value := range ctx.Fields {
			doc = tokenPattern(key).ReplaceAll(doc, []byte(escapeXML(value)))
		}
		// Unbound placeholders render as empty strings.
		doc = anyToken.ReplaceAll(doc, nil)
		parts[name] = doc
	}

	return rebuildZip(parts, order)
}

// normalizeTokens merges placeholder tokens that Word split across runs
// back into contiguous text.
func normalizeTokens(doc []byte) []byte {
	doc = splitOpenBrace.ReplaceAll(doc, []byte("{{"))
	doc = splitCloseBrace.ReplaceAll(doc, []byte("}}"))
	return anyToken.ReplaceAllFunc(doc, func(tok []byte) []byte {
		return innerTags.ReplaceAll(tok, nil)
	})
}

func tokenPattern(key string) *regexp.Regexp {
	return regexp.MustCompile(`\{\{\s*` + regexp.QuoteMeta(key) + `\s*\}\}`)
}

// embedImages registers each bound image as a media part plus a
// relationship, and splices an inline drawing where its placeholder
// appears. Placeholders missing from the template are skipped: the
// template controls its own layout.
func embedImages(parts map[string][]byte, order *[]string, images map[string]Image) error {
	if len(images) == 0 {
		return nil
	}

	doc := parts[documentPart]
	rels, ok := parts[documentRelsPart]
	if !ok {
		rels = []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
			`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`)
		*order = append(*order, documentRelsPart)
	}

	nextRel := maxRelationshipID(rels) + 1
	nextDrawing := 1000 // keep clear of ids the template already uses

	// Deterministic order so renders of the same inputs are identical.
	for _, name := range sortedImageNames(images) {
		pattern := tokenPattern(name)
		if !pattern.Match(doc) {
			continue
		}

		img := images[name]
		cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
		if err != nil {
			return fmt.Errorf("%w: placeholder %q: %v", ErrNotAnImage, name, err)
		}

		widthMM := img.WidthMM
		if widthMM <= 0 {
			widthMM = DefaultImageWidthMM
		}
		cx := int64(widthMM) * EMUPerMM
		cy := cx * int64(cfg.Height) / int64(cfg.Width)

		mediaName := fmt.Sprintf("word/media/%s.png", name)
		relID := fmt.Sprintf("rId%d", nextRel)
		nextRel++

		parts[mediaName] = img.Data
		*order = append(*order, mediaName)

		relEntry := fmt.Sprintf(`<Relationship Id="%s" Type="%s" Target="media/%s.png"/>`,
			relID, relationshipTypeImage, name)
		rels, err = appendToRoot(rels, "Relationships", []byte(relEntry))
		if err != nil {
			return err
		}

		doc = pattern.ReplaceAllFunc(doc, func([]byte) []byte {
			drawing := drawingXML(nextDrawing, name, relID, cx, cy)
			nextDrawing++
			return []byte(`</w:t>` + drawing + `<w:t xml:space="preserve">`)
		})
	}

	parts[documentPart] = doc
	parts[documentRelsPart] = rels
	return ensurePNGContentType(parts)
}

// appendToRoot splices entry before the closing tag of the named root
// element. A self-closing root (e.g. an empty <Relationships/>) is
// expanded first so the entry is never silently dropped.
func appendToRoot(part []byte, element string, entry []byte) ([]byte, error) {
	closing := []byte("</" + element + ">")
	if idx := bytes.Index(part, closing); idx >= 0 {
		out := make([]byte, 0, len(part)+len(entry))
		out = append(out, part[:idx]...)
		out = append(out, entry...)
		out = append(out, part[idx:]...)
		return out, nil
	}

	selfClosing := regexp.MustCompile(`<` + element + `(\s[^>]*?)?/>`)
	if loc := selfClosing.FindSubmatchIndex(part); loc != nil {
		var attrs []byte
		if loc[2] >= 0 {
			attrs = part[loc[2]:loc[3]]
		}
		out := make([]byte, 0, len(part)+len(entry)+len(closing))
		out = append(out, part[:loc[0]]...)
		out = append(out, '<')
		out = append(out, element...)
		out = append(out, attrs...)
		out = append(out, '>')
		out = append(out, entry...)
		out = append(out, closing...)
		out = append(out, part[loc[1]:]...)
		return out, nil
	}

	return nil, fmt.Errorf("%w: no <%s> root element", ErrMalformedTemplate, element)
}

func sortedImageNames(images map[string]Image) []string {
	names := make([]string, 0, len(images))
	for name := range images {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func maxRelationshipID(rels []byte) int {
	max := 0
	for _, m := range relationshipID.FindAllSubmatch(rels, -1) {
		id := 0
		for _, ch := range m[1] {
			id = id*10 + int(ch-'0')
		}
		if id > max {
			max = id
		}
	}
	return max
}

// drawingXML produces an inline picture run element sized in EMU.
func drawingXML(docPrID int, name, relID string, cx, cy int64) string {
	return fmt.Sprintf(`<w:drawing><wp:inline distT="0" distB="0" distL="0" distR="0" xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing">`+
		`<wp:extent cx="%d" cy="%d"/><wp:effectExtent l="0" t="0" r="0" b="0"/>`+
		`<wp:docPr id="%d" name="%s"/>`+
		`<wp:cNvGraphicFramePr><a:graphicFrameLocks xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" noChangeAspect="1"/></wp:cNvGraphicFramePr>`+
		`<a:graphic xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture">`+
		`<pic:pic xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture">`+
		`<pic:nvPicPr><pic:cNvPr id="%d" name="%s"/><pic:cNvPicPr/></pic:nvPicPr>`+
		`<pic:blipFill><a:blip xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" r:embed="%s"/><a:stretch><a:fillRect/></a:stretch></pic:blipFill>`+
		`<pic:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="%d" cy="%d"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></pic:spPr>`+
		`</pic:pic></a:graphicData></a:graphic></wp:inline></w:drawing>`,
		cx, cy, docPrID, name, docPrID, name, relID, cx, cy)
}

func ensurePNGContentType(parts map[string][]byte) error {
	ct, ok := parts[contentTypesPart]
	if !ok || bytes.Contains(ct, []byte(`Extension="png"`)) {
		return nil
	}
	entry := []byte(`<Default Extension="png" ContentType="image/png"/>`)
	updated, err := appendToRoot(ct, "Types", entry)
	if err != nil {
		return err
	}
	parts[contentTypesPart] = updated
	return nil
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

func rebuildZip(parts map[string][]byte, order []string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range order {
		f, err := w.Create(name)
		if err != nil {
			return nil, fmt.Errorf("writing document part %s: %w", name, err)
		}
		if _, err := f.Write(parts[name]); err != nil {
			return nil, fmt.Errorf("writing document part %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing document: %w", err)
	}
	return buf.Bytes(), nil
}
