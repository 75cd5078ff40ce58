// Package host stores hosts and the grids they own.
//
// A grid is a two-dimensional board of cells edited collaboratively by
// everyone connected to its host. Grids are stored as JSON documents in
// SQLite, keyed by a uuid, with the owning host's id alongside for
// filtering. Ownership is not enforced by a foreign key.
//
// Reads can be fronted by CachedRepository, which keeps recently read hosts
// and grids in an in-process ristretto cache and drops a grid's entry when
// it is updated.
package host
