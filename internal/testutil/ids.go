package testutil

// FixedIDGenerator returns the same document ID every time.
//
// Scenarios set the ID in YAML (document_id) so the same scenario produces
// byte-identical change logs and golden traces.
//
// Thread-safety: stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a fixed generator. An empty id yields "test-document".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-document"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed ID.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
