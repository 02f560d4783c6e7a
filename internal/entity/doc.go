// Package entity resolves federated `_entities` representations in
// deduplicated batches and returns one positionally aligned value per
// representation.
//
// # Overview
//
// A request flows through six stages exactly once:
//  1. Collect turns the wire-level list into References. A representation
//     without a type tag, with an unknown type, or missing a declared key
//     field becomes a malformed placeholder at its position.
//  2. Dedup computes a CanonicalKey per valid reference and keeps a reverse
//     index from each key to every position that referenced it.
//  3. Plan and the resolve stage issue exactly one Resolver call per
//     (typename, strategy) group. Groups run concurrently and are joined
//     before the pipeline continues.
//  4. Scatter expands resolved keys back over their positions.
//  5. The transform stage converts each unique document once with
//     package transform; duplicates share the converted value.
//  6. The caller writes the Result with package assemble.
//
// # Identity
//
// Identity is derived from the declared key fields of a typename only;
// extra fields in a representation never affect deduplication. See
// Canonicalize for the normalization rules.
//
// # Failures
//
// Entity-level failures never abort a request. A position degrades to nil
// plus a PositionError of one of four kinds: MalformedReference,
// ResolverError (with RESOLVER_TIMEOUT as a sub-kind), NotFound and
// SchemaConflict. A Resolver returning an error fails every key of its group
// and nothing else. A panicking Resolver is treated the same way.
//
// Run fails as a whole only when the representation list is not a list
// (ErrInvalidRepresentations) or when the request context ends while groups
// are in flight; in the latter case partial results are dropped.
//
// # Observability
//
// An Observer is notified at every stage boundary with free-form Attrs.
// Without one, the pipeline runs with a no-op observer.
package entity
