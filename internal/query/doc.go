// Package query describes live queries, fingerprints them, decides which
// mutation events concern them, and runs them against a storage.Reader.
//
// A Query names a store, an optional index, an optional key range, an
// optional filter and a Kind. Two queries with equal fingerprints are the
// same live query: key ranges compare by their four fields, so Only(k) and
// Bound(k, k, false, false) coincide, while filters compare by identity.
//
// Relevant is the pure relevance predicate: given a query and an event of
// the query's store, it reports whether the view should read again.
package query
