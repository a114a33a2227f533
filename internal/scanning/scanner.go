package scanning

import "context"

// Recognition is the text an OCR engine read from one image
type Recognition struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // 0-100
}

// Scanner defines the interface for OCR engines
type Scanner interface {
	// Recognize transcribes the text of an image or PDF
	Recognize(ctx context.Context, imageData []byte, contentType string) (*Recognition, error)
	// Close closes the scanner and releases resources
	Close() error
}

// transcribePrompt is the shared prompt used by all LLM providers
const transcribePrompt = `You are an OCR engine. Transcribe every line of text in this receipt, invoice or payment screenshot exactly as printed.

Rules:
- Keep the original line breaks; one printed line per output line
- Keep currency symbols, currency codes and digits exactly as shown (for example R250.00, $4.50, ١٥٠ ريال, 1 250,50 €)
- Keep item names next to their prices when they share a line
- Do not translate, summarise, total or reformat anything
- Estimate how legible the document was as a confidence between 0 and 100

Return ONLY valid JSON in this exact format:
{
  "text": "line one\nline two",
  "confidence": 0
}

Do not include any text before or after the JSON. Do not use markdown code blocks.`

const ocrSystemMessage = "You are an expert at reading printed and handwritten text in photos of receipts, invoices and payment confirmations. You copy text verbatim."
