package testutil

// FixedIDGenerator names every compilation the same, so a scenario run
// twice produces byte-identical output.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator returns a generator for id, or for
// "test-compilation" when id is empty.
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-compilation"
	}
	return &FixedIDGenerator{id: id}
}

func (g *FixedIDGenerator) Generate() string {
	return g.id
}
