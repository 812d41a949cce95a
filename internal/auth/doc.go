// Package auth issues and validates the bearer tokens of the detector API.
//
// Tokens are HS256 JWTs carrying a subject and one of two roles:
//
//   - viewer: read values, history, enums and receiver status
//   - operator: viewer plus writes and connect/disconnect
//
// There are no user accounts. Tokens are minted by the operator with
// "slsdet token <subject> [role]" using the configured secret.
package auth
