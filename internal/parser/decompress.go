package parser

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/rezonia/fiscal-ingest/internal/model"
)

// MaxDocumentSize bounds the decompressed size of a single document
const MaxDocumentSize = 16 << 20

var (
	gzipMagic = []byte{0x1f, 0x8b}
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
)

// Decompress inflates a gzip payload. Payloads that are already XML text
// are returned unchanged.
func Decompress(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, model.NewParseError("decompress", "payload", "empty payload", nil)
	}

	if !bytes.HasPrefix(raw, gzipMagic) {
		trimmed := bytes.TrimLeft(bytes.TrimPrefix(raw, utf8BOM), " \t\r\n")
		if bytes.HasPrefix(trimmed, []byte("<")) {
			return trimmed, nil
		}
		return nil, model.NewParseError("decompress", "payload", "payload is neither gzip nor XML", nil)
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, model.NewParseError("decompress", "payload", "invalid gzip header", err)
	}
	defer zr.Close()

	content, err := io.ReadAll(io.LimitReader(zr, MaxDocumentSize+1))
	if err != nil {
		return nil, model.NewParseError("decompress", "payload", "failed to inflate payload", err)
	}
	if len(content) > MaxDocumentSize {
		return nil, model.NewParseError("decompress", "payload", fmt.Sprintf("document exceeds %d bytes", MaxDocumentSize), nil)
	}

	return bytes.TrimPrefix(content, utf8BOM), nil
}
