// Package account supplies the opaque account identity the core engine
// treats as a bare key. The host's capability-issuance scheme is out of
// scope for this repo; this package stands in for it with a uuid-backed
// token.
package account

import "github.com/google/uuid"

// ID is an opaque, non-forgeable account identifier. The core treats it
// as a comparable key and never inspects its structure.
type ID uuid.UUID

// String renders the canonical uuid form.
func (id ID) String() string { return uuid.UUID(id).String() }

// Cap is the capability a host issues once per account (see NewCap); its
// ID method returns the ID it authorizes. Possession of a Cap is the only thing that lets a
// caller act as its ID — the engine itself never manufactures one.
type Cap struct {
	id ID
}

// NewCap mints a fresh, random capability.
func NewCap() Cap {
	return Cap{id: ID(uuid.New())}
}

// CapFromID reconstructs a capability for an already-known id — the host
// boundary's job (e.g. reattaching a session to an existing account),
// never something the core engine does on its own.
func CapFromID(id ID) Cap { return Cap{id: id} }

// ID returns the account identity this capability authorizes.
func (c Cap) ID() ID { return c.id }

// ParseID parses a canonical uuid string into an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	return ID(u), nil
}
