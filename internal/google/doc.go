// Package google wraps the Google OAuth2 flow used by outreach.
//
// Client covers sign-in: the consent URL, authorization code exchange and
// the userinfo and tokeninfo lookups. TokenManager covers delivery: it
// returns a cached access token for a stored user or refreshes it with the
// stored refresh token, writes the result back, and refuses tokens that
// cannot send mail.
package google
