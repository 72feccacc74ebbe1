package policy

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Decode parses a declarative policy document from YAML bytes. It rejects
// wrong shapes (unknown fields, type mismatches) the way yaml.v3's strict
// decoder does, but it does not apply §3 invariants — that is the
// validator's job, run separately so load() can report every issue in one
// pass instead of failing on the first bad field.
func Decode(raw []byte) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("policy: decode: %w", err)
	}
	return doc, nil
}

// DecodeFile loads and decodes a policy document from a path on disk.
func DecodeFile(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Decode(raw)
}

// Encode serializes a Document back to YAML. Decode(Encode(doc)) must equal
// doc for any document that validates — the round-trip law in §8.
func Encode(doc Document) ([]byte, error) {
	return yaml.Marshal(doc)
}
