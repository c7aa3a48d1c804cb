package oauth2

import (
	"os"
	"strings"

	"golang.org/x/oauth2/google"

	sp "github.com/sofigonzalez2012/secrets-project"
)

// GoogleUserInfoURL is the OpenID userinfo endpoint; "sub" is the stable id
const GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

type GoogleOAuth2 struct {
	*BaseOAuth2
}

// NewGoogleOAuth2 creates the Google provider. Empty arguments fall back to
// OAUTH2_GOOGLE_CLIENT_ID, OAUTH2_GOOGLE_CLIENT_SECRET and OAUTH2_GOOGLE_CALLBACK_URL.
func NewGoogleOAuth2(clientId string, clientSecret string, callbackUrl string, handle AssertionHandler) *GoogleOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CALLBACK_URL"))
	}

	out := GoogleOAuth2{
		BaseOAuth2: NewBaseOAuth2(sp.ProviderGoogle, clientId, clientSecret, callbackUrl, handle),
	}
	out.oauthConfig.Endpoint = google.Endpoint
	out.oauthConfig.Scopes = []string{"openid", "email", "profile"}
	out.UserInfoURL = GoogleUserInfoURL
	out.SubjectField = "sub"
	out.HintFields = []string{"name", "email", "picture"}
	return &out
}
