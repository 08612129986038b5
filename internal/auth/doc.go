// Package auth provides bearer-token authorisation for the admin API.
//
// Tokens are HS256 JWTs signed with security.jwt.secret and carry a role
// (viewer, operator or admin). Roles map to permissions through a static
// table; there is no user database. Tokens are minted by `nmosctl token`.
package auth
