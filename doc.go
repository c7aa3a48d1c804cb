// Package secrets verifies who a caller is and remembers it across requests
// for the secrets sharing app.
//
// An Account is the durable identity record. It can be reached through a
// local username and password, through one or more external provider
// identities (Google, Facebook), or both. Logging in through any of them
// yields the same account.
//
// # Architecture
//
// Hasher: turns passwords into salted one-way hashes (argon2id or bcrypt) and
// checks them. HashPool bounds how many hashes run at once.
//
// AccountStore: persists accounts. FindOrCreateByExternalIdentity creates
// exactly one account per (provider, subject) however many callers race on
// it. Implementations live under stores/ (memory, fs, gorm, gae).
//
// Dispatcher: runs the strategy the caller asked for (local or a provider)
// and reports Verified, Rejected or ProviderError.
//
// SessionManager: mints opaque session tokens, resolves them back to the
// account and revokes them. Session stores live under stores/ (memory, fs,
// gorm, gae, redis, scs).
//
// Gate: allows resolved callers and sends everyone else to the login page.
//
// # Basic Usage
//
//	accounts := memory.NewAccountStore()
//	sessions := memory.NewSessionStore()
//	auth, err := secrets.New(secrets.DefaultConfig(), accounts, sessions)
//
//	acct, err := auth.Register(ctx, "alice", "correct-horse")
//	session, err := auth.StartSession(ctx, acct.ID)
//
//	decision, acct, err := auth.CheckAccess(ctx, session.Token)
//
// WebAuth exposes the same operations over HTTP; the oauth2 package runs the
// provider redirect and callback legs and hands a validated Assertion to
// WebAuth.HandleAssertion:
//
//	web := secrets.NewWebAuth(auth)
//	router := web.Handler()
//	google := oauth2.NewGoogleOAuth2("", "", "", web.HandleAssertion)
//	router.PathPrefix("/auth/google/").Handler(http.StripPrefix("/auth/google", google.Handler()))
//
// # Errors
//
// Unknown usernames and wrong passwords both surface as
// ErrAuthenticationFailed. AuthErrorFor maps every error of this package to
// the code and HTTP status shown to callers.
package secrets
