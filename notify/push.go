package notify

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/legit-games/oauth2/models"
)

// PushResult is the body of a push mode callback. It carries either the
// token response or an error, always with the auth_req_id it answers.
type PushResult struct {
	AuthReqID        string `json:"auth_req_id"`
	AccessToken      string `json:"access_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	ExpiresIn        int64  `json:"expires_in,omitempty"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	IDToken          string `json:"id_token,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenResult is the successful push result for token.
func TokenResult(authReqID string, token *models.OAuthToken) PushResult {
	return PushResult{
		AuthReqID:    authReqID,
		AccessToken:  token.AccessToken.Value,
		TokenType:    token.TokenType,
		ExpiresIn:    token.AccessToken.ExpiresIn(),
		RefreshToken: token.RefreshToken.Value,
		IDToken:      token.IDToken.Value,
	}
}

// ErrorResult is the push result of a request that produced no tokens.
func ErrorResult(authReqID, code, description string) PushResult {
	return PushResult{AuthReqID: authReqID, Error: code, ErrorDescription: description}
}

// PushNotifier posts token responses and errors to the client notification
// endpoint of push mode clients.
type PushNotifier struct {
	poster
}

// NewPushNotifier returns a notifier using client, or a client with a 10s
// timeout when nil.
func NewPushNotifier(client *http.Client, log *zap.Logger) *PushNotifier {
	return &PushNotifier{poster: newPoster(client, log)}
}

// Push delivers result to endpoint.
func (n *PushNotifier) Push(ctx context.Context, endpoint, notificationToken string, result PushResult) error {
	return n.post(ctx, "push", endpoint, notificationToken, result)
}
