package secrets

import (
	"net/url"
	"strings"
)

// Decision is the outcome of the access gate
type Decision struct {
	Allow bool

	// RedirectTo is where a denied caller should go to log in. Empty means
	// deny without a redirect.
	RedirectTo string
}

// Gate is the single decision point consulted before protected operations.
// It holds configuration only.
type Gate struct {
	LoginURL         string
	CallbackURLParam string
}

// Decide allows any resolved account and denies everything else
func (g Gate) Decide(acct *Account) Decision {
	if acct != nil {
		return Decision{Allow: true}
	}
	return Decision{RedirectTo: g.LoginURL}
}

// DecideFor is Decide with the originally requested path attached to the
// login redirect, so the login flow can send the caller back afterwards.
func (g Gate) DecideFor(acct *Account, originalPath string) Decision {
	d := g.Decide(acct)
	if d.Allow || d.RedirectTo == "" || originalPath == "" {
		return d
	}
	param := g.CallbackURLParam
	if param == "" {
		param = "callbackURL"
	}
	sep := "?"
	if strings.Contains(d.RedirectTo, "?") {
		sep = "&"
	}
	encoded := strings.ReplaceAll(url.QueryEscape(originalPath), "+", "%20")
	d.RedirectTo = d.RedirectTo + sep + param + "=" + encoded
	return d
}
