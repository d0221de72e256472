// Package escpos serializes receipt documents into ESC/POS byte streams
package escpos

import (
	"bytes"

	"github.com/tillworks/posprint/internal/receipt"
)

// ESC/POS command prefixes
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
)

// Control sequences. These are part of the wire contract: any two
// encoders of the same document must be byte-identical.
var (
	reset      = []byte{ESC, '@'}
	centerOn   = []byte{ESC, 'a', 1}
	centerOff  = []byte{ESC, 'a', 0}
	boldOn     = []byte{ESC, 'E', 1}
	boldOff    = []byte{ESC, 'E', 0}
	partialCut = []byte{GS, 'V', 0x41, 0x03}
)

// Encode converts a document into the exact byte stream for the printer.
// The stream starts with a printer reset; lines are joined with \n, with
// alignment and emphasis toggled around each annotated line. There is no
// separate binary framing: the output is UTF-8 text with embedded
// control bytes. Encode is stateless and pure.
func Encode(doc receipt.Document) []byte {
	return encode(doc, nil)
}

// EncodeWithQR encodes the document with a QR raster block spliced in
// before the cut, so the symbol prints on the same slip.
func EncodeWithQR(doc receipt.Document, qrText string, size int) ([]byte, error) {
	block, err := QRCode(qrText, size)
	if err != nil {
		return nil, err
	}
	return encode(doc, block), nil
}

func encode(doc receipt.Document, beforeCut []byte) []byte {
	var b bytes.Buffer
	b.Write(reset)

	for i, ln := range doc.Lines {
		if i > 0 {
			b.WriteByte('\n')
		}

		if ln.Directives.Has(receipt.Cut) {
			if len(beforeCut) > 0 {
				b.Write(beforeCut)
				b.WriteByte('\n')
				beforeCut = nil
			}
			b.Write(partialCut)
			continue
		}

		if ln.Directives.Has(receipt.Center) {
			b.Write(centerOn)
		}
		if ln.Directives.Has(receipt.Bold) {
			b.Write(boldOn)
		}

		b.WriteString(ln.Text)

		if ln.Directives.Has(receipt.Bold) {
			b.Write(boldOff)
		}
		if ln.Directives.Has(receipt.Center) {
			b.Write(centerOff)
		}
	}

	return b.Bytes()
}
