// Package auth provides authentication and authorisation for the tfbridge API.
//
// Accounts come from configuration: one admin and any number of viewers.
// Passwords are stored as Argon2id PHC strings and checked by the
// Authenticator, which issues short-lived HS256 JWT access tokens.
// Permissions are a static role mapping; viewers may read things and
// history, admins may also configure and command them.
package auth
