// Package jwt issues and verifies short-lived access tokens.
//
// Access tokens carry the user ID as sub, a random jti used by the logout
// denylist, and optionally the role and refresh family. Verification pins
// the algorithm, requires exp and iat, and checks issuer and audience when
// configured.
package jwt
