package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DomainInvoice prefixes invoice checksums.
// Version suffix enables future algorithm migration.
const DomainInvoice = "parley/invoice/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// InvoiceChecksum identifies a guideline payload by content. Payloads that
// differ only in surrounding whitespace or Unicode composition of their
// content have the same checksum.
func InvoiceChecksum(p GuidelinePayload) (string, error) {
	p.Content = p.Content.Normalize()
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("InvoiceChecksum: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainInvoice, data), nil
}
