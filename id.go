package cardream

import "github.com/basedlsg/Car-Dream/id"

// ID is the primary identifier type for all Car-Dream entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
