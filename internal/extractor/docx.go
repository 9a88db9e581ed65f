package extractor

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"strings"

	"doc-translator/internal/types"
)

// extractDOCX pulls paragraph text out of word/document.xml. Formatting is
// discarded; paragraphs become blank-line separated blocks so chunking works
// the same as for plain text.
func (e *Extractor) extractDOCX(path string) (*Document, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrExtract, "failed to open DOCX", path, err)
	}
	defer archive.Close()

	var docEntry *zip.File
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			docEntry = f
			break
		}
	}
	if docEntry == nil {
		return nil, types.NewAppError(types.ErrExtract, "DOCX has no word/document.xml", nil)
	}

	rc, err := docEntry.Open()
	if err != nil {
		return nil, types.NewAppError(types.ErrExtract, "failed to read DOCX body", err)
	}
	defer rc.Close()

	text, err := docxBodyText(rc)
	if err != nil {
		return nil, types.NewAppError(types.ErrExtract, "failed to parse DOCX body", err)
	}

	return &Document{
		Text:       text,
		PageImages: map[int]string{},
	}, nil
}

// docxBodyText streams the WordprocessingML body, collecting w:t runs into
// paragraphs. w:tab and w:br inside a run become a space and a newline.
func docxBodyText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)

	var paragraphs []string
	var current strings.Builder
	inText := false

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				current.WriteByte(' ')
			case "br":
				current.WriteByte('\n')
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(current.String()); s != "" {
					paragraphs = append(paragraphs, s)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(el)
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		paragraphs = append(paragraphs, s)
	}

	return strings.Join(paragraphs, "\n\n"), nil
}
