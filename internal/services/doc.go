// Package services defines the [Feed] interface for social-feed accounts and implements it for
// Twitter v1.1 compatible REST APIs (Twitter, StatusNet, GNU social).
//
// # Feed Interface
//
// A [Feed] is one authenticated account. Connectors only depend on the interface, so tests
// substitute an in-memory double.
//
// # Client
//
// [Client] is built with [New] from a configured [shared.ServiceConfig] plus the account's key and
// secret. The auth scheme comes from the service's type:
//   - oauth2 : bearer token via [oauth2.Transport]; a 401 triggers one refresh with the stored
//     refresh token and the new token is handed to [Options.OnTokenRefresh] for persistence
//   - basic : key and secret sent as HTTP basic credentials
//
// A per-client [rate.Limiter] is installed when the service declares rate_limit (requests per second).
//
// [OAuthConfig] exposes the authorization-code configuration used when linking an account.
//
// # Error Handling
//
// Every failed call returns an [*APIError]. It matches [shared.ErrFeedAPI] with [errors.Is], and
// [shared.ErrAuthentication] when the API rejected the credentials. The message is the API's own
// error text when the response carries one.
package services
