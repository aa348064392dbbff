// Package tasks implements the account connector that relays between one room and one feed account.
//
// # Connector
//
// [NewConnector] binds an account row to its configured service (matched on tag and auth scheme)
// and builds an authenticated [services.Feed]. Construction fails with [shared.ErrConfiguration] or
// [shared.ErrAuthentication]; callers must not register a connector that failed to build.
//
// # Inbound Messages
//
// [Connector.HandleInbound] turns one room message into feed calls:
//   - plain text is posted verbatim
//   - `@tag:author:id:/favor|/retweet|/block|/report` runs the command against the entry
//   - `@tag:author:id:text` posts a threaded reply that mentions the author
//
// The result is a [Handled] value naming the service, or [Unhandled].
//
// # Polling
//
// [Connector.PerformUpdates] is one cycle of a perpetual poll: it relays new timeline entries and
// direct messages in ascending id order, advances and persists the cursor, and re-arms itself
// through [Core.Schedule] whether or not the cycle succeeded. Delivery is at least once: entries
// relayed before a failed cursor write are relayed again after a restart.
//
// # Presence
//
// Each connector keeps a per-author presence cache derived from content timestamps. Authors are
// announced when first seen and marked away when new content trails their newest content by
// more than the configured staleness threshold.
package tasks
