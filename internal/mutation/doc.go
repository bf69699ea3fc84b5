// Package mutation executes write requests against a storage.Adapter and
// describes each successful write as an Event.
//
// The request vocabulary is closed: Put, Add, Update, Delete and Clear.
// Pipeline.Execute runs one request in one read-write transaction, reads
// the old record first, computes per-index deltas, classifies the change
// (inserted, modified, deleted, cleared) and stamps the event with a
// logical sequence number and a request ID.
//
// A failed request never yields an event. It yields a *WriteError tagged
// once with the originating request; the error also carries a probe event
// describing the attempted change, which the live view engine uses to
// decide which views the failure concerns.
package mutation
