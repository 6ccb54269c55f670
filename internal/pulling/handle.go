package pulling

import (
	"fmt"

	"github.com/google/uuid"

	idgen "github.com/snapscore/pipeline/internal/id/uuid"
)

var handleGenerator = idgen.Generator{}

// Handle is an opaque identifier for a scheduled periodic pull. Per
// spec.md §9's design note, a Handle carries no reference back into the
// engine — cancelling resolves the handle through the RequestRegistry's own
// handle table, so a Handle outliving the engine that issued it is simply
// unresolvable, never a dangling pointer.
type Handle struct {
	id uuid.UUID
}

// String renders the handle for logging/transport.
func (h Handle) String() string { return h.id.String() }

// ParseHandle parses a Handle previously rendered by String, for API
// layers that receive a handle back from a client as plain text.
func ParseHandle(s string) (Handle, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Handle{}, fmt.Errorf("parse handle: %w", err)
	}
	return Handle{id: id}, nil
}

func newHandle() Handle {
	id, err := handleGenerator.NewRawID()
	if err != nil {
		// entropy failure only; NewRawID reading crypto/rand cannot fail
		// in practice on a supported platform.
		panic("new handle: " + err.Error())
	}
	return Handle{id: id}
}
