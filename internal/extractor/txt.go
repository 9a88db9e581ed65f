package extractor

import (
	"bytes"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"doc-translator/internal/logger"
	"doc-translator/internal/types"
)

// extractText reads a plain-text or Markdown file, detecting the encoding
// from the BOM first, then UTF-8 validity, then trying GBK as a last resort.
func (e *Extractor) extractText(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewAppErrorWithDetails(types.ErrFileNotFound, "document not found", path, err)
		}
		return nil, types.NewAppError(types.ErrExtract, "failed to read document", err)
	}

	text, encodingName, err := decodeText(raw)
	if err != nil {
		return nil, err
	}
	if encodingName != "utf-8" {
		logger.Info("converted text encoding", logger.String("from", encodingName))
	}

	return &Document{
		Text:       text,
		PageImages: map[int]string{},
		Metadata:   map[string]string{"encoding": encodingName},
	}, nil
}

// decodeText returns the UTF-8 content and the name of the source encoding.
func decodeText(raw []byte) (string, string, error) {
	// UTF-8 BOM
	if bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}) {
		return string(raw[3:]), "utf-8", nil
	}
	// UTF-16 LE BOM
	if bytes.HasPrefix(raw, []byte{0xFF, 0xFE}) {
		decoded, err := decodeWith(raw, unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder())
		if err != nil {
			return "", "", types.NewAppError(types.ErrExtract, "failed to decode UTF-16LE text", err)
		}
		return decoded, "utf-16le", nil
	}
	// UTF-16 BE BOM
	if bytes.HasPrefix(raw, []byte{0xFE, 0xFF}) {
		decoded, err := decodeWith(raw, unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder())
		if err != nil {
			return "", "", types.NewAppError(types.ErrExtract, "failed to decode UTF-16BE text", err)
		}
		return decoded, "utf-16be", nil
	}

	if utf8.Valid(raw) {
		return string(raw), "utf-8", nil
	}

	// Mainland-China documents without a BOM are usually GBK. The decoder
	// substitutes U+FFFD for bytes it cannot map, so its presence means the
	// data was not GBK after all.
	if decoded, err := decodeWith(raw, simplifiedchinese.GBK.NewDecoder()); err == nil &&
		utf8.ValidString(decoded) && !strings.ContainsRune(decoded, utf8.RuneError) {
		return decoded, "gbk", nil
	}

	return "", "", types.NewAppError(types.ErrExtract, "unrecognized text encoding", nil)
}

func decodeWith(raw []byte, t transform.Transformer) (string, error) {
	decoded, _, err := transform.Bytes(t, raw)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
