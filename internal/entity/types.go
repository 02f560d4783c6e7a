package entity

// Strategy selects how a typename's references are resolved.
type Strategy int

const (
	// Direct resolves keys with a storage lookup against the read model.
	Direct Strategy = iota
	// Custom resolves keys with a user supplied function.
	Custom
)

func (s Strategy) String() string {
	switch s {
	case Direct:
		return "direct"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// Reference is one wire-level entity representation after collection.
// Position is the index of the representation in the request and is kept
// for duplicates too.
type Reference struct {
	Typename string
	// Keys holds the declared key fields only, in declaration order.
	Keys     []KeyField
	Position int
	// Malformed is set when the representation could not be collected; such
	// references are scattered straight into the output.
	Malformed *Error
}

// KeyField is a declared key field and its wire value.
type KeyField struct {
	Name  string
	Value any
}

// CanonicalKey is the normalized identity of a reference. Two references
// with the same typename and semantically equal key values share a key.
type CanonicalKey struct {
	Typename string
	Identity string
}

func (k CanonicalKey) String() string { return k.Typename + "{" + k.Identity + "}" }

// Key is what a Resolver receives for one unique canonical key: the key and
// the key field values of the first reference that produced it.
type Key struct {
	Canonical CanonicalKey
	Fields    map[string]any
}

// Group is the set of unique keys resolved by a single Resolver call.
type Group struct {
	Typename string
	Strategy Strategy
	Keys     []Key
}

// Fetched is one per-key result returned by a Resolver.
type Fetched struct {
	// Document is the raw stored document; nil means not found.
	Document any
	// Err is a failure specific to this key.
	Err error
}

// Resolved is the outcome for one canonical key in a request. Exactly one
// exists per unique key.
type Resolved struct {
	Key      CanonicalKey
	Document any
	Err      *Error
}

// Stage names a pipeline stage for observers.
type Stage string

const (
	StageCollect   Stage = "collect"
	StageDedup     Stage = "dedup"
	StageResolve   Stage = "resolve"
	StageFetch     Stage = "fetch"
	StageScatter   Stage = "scatter"
	StageTransform Stage = "transform"
)
