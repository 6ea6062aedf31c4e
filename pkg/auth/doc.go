// Package auth provides optional authentication for the parley HTTP API.
//
// Authenticators vote on each request: Yes (identity established), No
// (credentials present but invalid) or Abstain (credentials of a kind the
// authenticator does not handle). A Chain asks its authenticators in order
// and stops at the first Yes or No; when every authenticator abstains the
// chain's default decides.
package auth
