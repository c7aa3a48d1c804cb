package oauth2

import (
	"os"
	"strings"

	"golang.org/x/oauth2/facebook"

	sp "github.com/sofigonzalez2012/secrets-project"
)

// FacebookUserInfoURL asks the Graph API for the app-scoped user id and name
const FacebookUserInfoURL = "https://graph.facebook.com/me?fields=id,name"

type FacebookOAuth2 struct {
	*BaseOAuth2
}

// NewFacebookOAuth2 creates the Facebook provider. Empty arguments fall back to
// OAUTH2_FACEBOOK_CLIENT_ID, OAUTH2_FACEBOOK_CLIENT_SECRET and OAUTH2_FACEBOOK_CALLBACK_URL.
func NewFacebookOAuth2(clientId string, clientSecret string, callbackUrl string, handle AssertionHandler) *FacebookOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("OAUTH2_FACEBOOK_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_FACEBOOK_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("OAUTH2_FACEBOOK_CALLBACK_URL"))
	}

	out := FacebookOAuth2{
		BaseOAuth2: NewBaseOAuth2(sp.ProviderFacebook, clientId, clientSecret, callbackUrl, handle),
	}
	out.oauthConfig.Endpoint = facebook.Endpoint
	out.oauthConfig.Scopes = []string{"public_profile"}
	out.UserInfoURL = FacebookUserInfoURL
	out.SubjectField = "id"
	out.HintFields = []string{"name"}
	return &out
}
