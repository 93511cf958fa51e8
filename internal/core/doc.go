// Package core implements bulk CSV exchange for the user directory.
//
// The package holds all domain logic and talks to persistence only through
// the [UserStore] port, so it can be driven by HTTP handlers, a CLI or tests
// with an in-memory store.
//
// # Import
//
// An import runs in four stages:
//
//  1. [ParseCSV] maps header cells to canonical fields with [CanonicalField],
//     strips a byte-order mark, enforces the row limit and normalizes cells
//     (blank and "?" both mean no value).
//  2. [Service.CheckDuplicates] optionally reports which rows already exist
//     and recommends a [Strategy]. It never writes.
//  3. [Service.Import] pre-fetches every referenced email in one query, then
//     commits rows in chunks, one transaction per chunk.
//  4. The [ImportResult] counts created, updated, skipped and errored rows and
//     keeps the first row errors for the client.
//
// Strategies only matter for rows that match an existing user:
//
//   - create: the row is reported as "already exists"
//   - update: the user is overwritten, except created_at and, when the row has
//     no password, the password hash
//   - skip:   the row is counted as skipped
//
// A failed chunk stops the import with [PersistenceError]; chunks committed
// before it are kept.
//
// # Export
//
// [Service.Export] pages through the selection in id order with keyset
// batches and writes through encoding/csv. [Service.ExportFast] walks a single
// raw cursor and formats bytes directly. Both write the same BOM, header and
// rows for the same data.
//
// # Error Handling
//
// Typed errors ([FormatError], [RowLimitError], [PersistenceError],
// [StreamWriteError]) carry the details callers need; [MapError] turns any
// error into a [UserMessage] with a support code.
package core
