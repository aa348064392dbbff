// Package models defines the persistent entities of the feedbridge relay.
//
// # Entities
//
//   - [User] : a chat address, created the first time it joins a relay room
//   - [AccountType] : an auth scheme ("oauth2", "basic") declared by a service tag
//   - [Service] : a configured feed endpoint referencing its [AccountType]
//   - [Account] : a [User] bound to a [Service] with credentials and a polling [Cursor]
//
// All entities implement [Model] so the store can commit or remove them generically.
//
// # Cursor
//
// [Cursor] is the parsed form of Account.State, "<timeline_id>:<direct_message_id>".
// "0:0" means nothing has been relayed and the next poll fetches full history.
// [Cursor.Advance] only ever moves each component forward.
package models
