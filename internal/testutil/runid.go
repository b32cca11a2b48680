package testutil

// FixedRunID returns the same run id every time, so repeated runs of one
// scenario produce byte-identical journals.
//
// Thread-safety: FixedRunID is stateless and safe for concurrent use.
type FixedRunID struct {
	id string
}

// NewFixedRunID creates the generator. An empty id becomes
// "test-run-default".
func NewFixedRunID(id string) *FixedRunID {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunID{id: id}
}

// Generate returns the fixed id. Implements journal.RunIDGenerator.
func (g *FixedRunID) Generate() string {
	return g.id
}
