// Package database provides the shared SQLite backend for pipeline
// coordination state: the job status store and the event stream both build
// their tables on a connection opened here.
//
// Design decision: We use SQLite (via modernc.org/sqlite) instead of a
// networked broker because:
//  1. No external dependencies - the coordination state is a single file
//  2. CGO-free implementation allows easy cross-compilation
//  3. WAL mode gives the concurrent reader/writer behavior the workers need
//  4. Guarded UPDATE statements give us the compare-and-set semantics the
//     job status transitions rely on
//
// Workers are separate OS processes; all of them open the same database
// file, and SQLite's locking plus WAL make that safe at this write volume.
package database
