// Package sec provides the authorization gate for the stream web application.
//
// # Authentication
//
// Requests authenticate with HTTP Basic Auth. A [Gate] checks the supplied
// credentials against the encrypted credential file, reloaded on every
// decision so edits made with the user management commands apply without a
// restart, and then against a self-issued guest credential that rotates once
// its TTL has elapsed.
//
// IMPORTANT: Basic Auth transmits credentials in base64 encoding (not encrypted).
// TLS must be used in production to protect credentials in transit.
//
// # Components
//
//   - [Gate]: Authorization decision and guest credential lifecycle
//   - [Challenge]: The 401 response returned on a denied request
//   - [Gate.Middleware]: Echo middleware wrapping protected handlers
//   - [GetAuthenticatedUser], [SetAuthenticatedUser]: Context accessors for the username
package sec
