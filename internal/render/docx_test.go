package render

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`</Types>`

const testRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>` +
	`</Relationships>`

func buildTestTemplate(t *testing.T, documentXML string, extraParts map[string]string) []byte {
	t.Helper()

	parts := map[string]string{
		"[Content_Types].xml":          testContentTypes,
		"word/_rels/document.xml.rels": testRels,
		"word/document.xml":            documentXML,
	}
	for name, content := range extraParts {
		parts[name] = content
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range parts {
		f, err := w.Create(name)
		assert.NoError(t, err)
		_, err = f.Write([]byte(content))
		assert.NoError(t, err)
	}
	assert.NoError(t, w.Close())
	return buf.Bytes()
}

func documentBody(text string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
		`<w:body><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`
}

func readPart(t *testing.T, docx []byte, name string) string {
	t.Helper()

	reader, err := zip.NewReader(bytes.NewReader(docx), int64(len(docx)))
	assert.NoError(t, err)
	for _, f := range reader.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		assert.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		assert.NoError(t, err)
		return string(data)
	}
	t.Fatalf("part %s not found", name)
	return ""
}

func tinyPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	assert.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestRenderBindsTextFields(t *testing.T) {
	tpl := buildTestTemplate(t, documentBody("Awarded to {{first_name}} {{last_name}}"), nil)

	out, err := Render(tpl, Context{Fields: map[string]string{
		"first_name": "Jane",
		"last_name":  "Doe",
	}})
	assert.NoError(t, err)

	doc := readPart(t, out, "word/document.xml")
	assert.Contains(t, doc, "Awarded to Jane Doe")
	assert.NotContains(t, doc, "{{")
}

func TestRenderEscapesXML(t *testing.T) {
	tpl := buildTestTemplate(t, documentBody("{{first_name}}"), nil)

	out, err := Render(tpl, Context{Fields: map[string]string{
		"first_name": `Jane <& "Doe">`,
	}})
	assert.NoError(t, err)

	doc := readPart(t, out, "word/document.xml")
	assert.Contains(t, doc, "Jane &lt;&amp; &quot;Doe&quot;&gt;")
}

func TestRenderMissingContextKeyBindsEmpty(t *testing.T) {
	tpl := buildTestTemplate(t, documentBody("Name: {{first_name}} Middle: {{middle_name}}"), nil)

	out, err := Render(tpl, Context{Fields: map[string]string{"first_name": "Jane"}})
	assert.NoError(t, err)

	doc := readPart(t, out, "word/document.xml")
	assert.Contains(t, doc, "Name: Jane Middle: ")
	assert.NotContains(t, doc, "{{middle_name}}")
}

func TestRenderMergesRunSplitPlaceholders(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
		`<w:body><w:p><w:r><w:t>{{first_</w:t></w:r><w:r><w:t>name}}</w:t></w:r></w:p></w:body></w:document>`
	tpl := buildTestTemplate(t, body, nil)

	out, err := Render(tpl, Context{Fields: map[string]string{"first_name": "Jane"}})
	assert.NoError(t, err)

	doc := readPart(t, out, "word/document.xml")
	assert.Contains(t, doc, "Jane")
	assert.NotContains(t, doc, "{{")
}

func TestRenderBindsInHeadersAndFooters(t *testing.T) {
	header := `<w:hdr xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
		`<w:p><w:r><w:t>No {{certificate_number}}</w:t></w:r></w:p></w:hdr>`
	tpl := buildTestTemplate(t, documentBody("body"), map[string]string{
		"word/header1.xml": header,
	})

	out, err := Render(tpl, Context{Fields: map[string]string{"certificate_number": "CERT-001"}})
	assert.NoError(t, err)

	assert.Contains(t, readPart(t, out, "word/header1.xml"), "No CERT-001")
}

func TestRenderEmbedsImages(t *testing.T) {
	tpl := buildTestTemplate(t, documentBody("Scan: {{qr_code}}"), nil)
	qrImage := tinyPNG(t, 100, 100)

	out, err := Render(tpl, Context{
		Images: map[string]Image{
			"qr_code": {Data: qrImage, WidthMM: 30},
		},
	})
	assert.NoError(t, err)

	doc := readPart(t, out, "word/document.xml")
	assert.Contains(t, doc, "<w:drawing>")
	assert.NotContains(t, doc, "{{qr_code}}")

	// 30mm square image: both extents are 30 * 36000 EMU.
	assert.Contains(t, doc, `cx="1080000" cy="1080000"`)

	media := readPart(t, out, "word/media/qr_code.png")
	assert.Equal(t, string(qrImage), media)

	rels := readPart(t, out, "word/_rels/document.xml.rels")
	assert.Contains(t, rels, `Target="media/qr_code.png"`)
	assert.Contains(t, rels, `Id="rId2"`)

	ct := readPart(t, out, "[Content_Types].xml")
	assert.Contains(t, ct, `Extension="png"`)
}

func TestRenderEmbedsImageIntoSelfClosingRelationships(t *testing.T) {
	// Word tolerates an empty self-closing rels root; the relationship
	// must still land inside it rather than be dropped.
	tpl := buildTestTemplate(t, documentBody("{{qr_code}}"), map[string]string{
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
			`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"/>`,
	})

	out, err := Render(tpl, Context{
		Images: map[string]Image{
			"qr_code": {Data: tinyPNG(t, 10, 10)},
		},
	})
	assert.NoError(t, err)

	rels := readPart(t, out, "word/_rels/document.xml.rels")
	assert.Contains(t, rels, `Id="rId1"`)
	assert.Contains(t, rels, `Target="media/qr_code.png"`)
	assert.Contains(t, rels, `</Relationships>`)
}

func TestRenderImageWithoutRelationshipsRoot(t *testing.T) {
	tpl := buildTestTemplate(t, documentBody("{{qr_code}}"), map[string]string{
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><Broken/>`,
	})

	_, err := Render(tpl, Context{
		Images: map[string]Image{
			"qr_code": {Data: tinyPNG(t, 10, 10)},
		},
	})
	assert.ErrorIs(t, err, ErrMalformedTemplate)
}

func TestRenderImageKeepsAspectRatio(t *testing.T) {
	tpl := buildTestTemplate(t, documentBody("{{instructor_signature}}"), nil)

	out, err := Render(tpl, Context{
		Images: map[string]Image{
			"instructor_signature": {Data: tinyPNG(t, 200, 100), WidthMM: 30},
		},
	})
	assert.NoError(t, err)

	doc := readPart(t, out, "word/document.xml")
	assert.Contains(t, doc, `cx="1080000" cy="540000"`)
}

func TestRenderImagePlaceholderAbsentFromTemplate(t *testing.T) {
	tpl := buildTestTemplate(t, documentBody("no images here"), nil)

	out, err := Render(tpl, Context{
		Images: map[string]Image{
			"qr_code": {Data: tinyPNG(t, 10, 10)},
		},
	})
	assert.NoError(t, err)

	// Template controls its own layout: nothing embedded, no error.
	assert.NotContains(t, readPart(t, out, "word/document.xml"), "<w:drawing>")
}

func TestRenderImageBoundToGarbage(t *testing.T) {
	tpl := buildTestTemplate(t, documentBody("{{qr_code}}"), nil)

	_, err := Render(tpl, Context{
		Images: map[string]Image{
			"qr_code": {Data: []byte("not an image")},
		},
	})
	assert.ErrorIs(t, err, ErrNotAnImage)
}

func TestRenderMalformedTemplate(t *testing.T) {
	_, err := Render([]byte("this is not a zip archive"), Context{})
	assert.ErrorIs(t, err, ErrMalformedTemplate)
}

func TestRenderTemplateWithoutDocumentPart(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("word/other.xml")
	assert.NoError(t, err)
	_, err = f.Write([]byte("<xml/>"))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())

	_, err = Render(buf.Bytes(), Context{})
	assert.ErrorIs(t, err, ErrMalformedTemplate)
}
