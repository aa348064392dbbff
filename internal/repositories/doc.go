// Package repositories implements the persistence store for users, account types, services and accounts.
//
// # Sessions
//
// A [Store] owns the connection pool. Workers check out a [Session] with [Store.Acquire] (or
// [Store.WithSession]) and release it when done. Each session pins one pooled connection, so a
// worker's transactions never interleave with another worker's. Every multi-statement write runs in
// its own transaction and rolls back on failure.
//
// # Operations
//
//   - [Session.FindOrCreateUser] : one row per chat address
//   - [Session.FindOrCreateAccountType] : one row per (scheme, tag)
//   - [Session.FindAccounts] : filtered lookup that can create the missing (user, service) account
//   - [Session.Commit] : insert or update any [models.Model]; updates never recreate deleted rows
//   - [Session.Remove] : delete with schema cascades
//   - [Session.ReconcileServices] : align persisted services with the configured ones
//
// Sequence numbers give stable, human-readable ordering (user #42) independent of UUIDs.
// They are incremented inside the inserting transaction via per-table sequence tables.
//
// Account credentials are sealed with a [shared.Encryptor] when one is configured and the
// encryption_version column records how each row was written.
package repositories
