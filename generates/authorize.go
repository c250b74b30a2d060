package generates

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

// AuthorizeGenerate generate the authorization code
type AuthorizeGenerate interface {
	Code(ctx context.Context, data *GenerateBasic) (string, error)
}

// NewAuthorizeGenerate create to generate the authorize code instance
func NewAuthorizeGenerate() *OpaqueAuthorizeGenerate {
	return &OpaqueAuthorizeGenerate{}
}

// OpaqueAuthorizeGenerate generate the authorize code
type OpaqueAuthorizeGenerate struct{}

// Code based on the UUID generated token
func (ag *OpaqueAuthorizeGenerate) Code(ctx context.Context, data *GenerateBasic) (string, error) {
	buf := []byte(data.Grant.RequestedClientID + data.Grant.User.Sub)
	token := uuid.NewMD5(uuid.Must(uuid.NewRandom()), buf)
	code := base64.URLEncoding.EncodeToString([]byte(token.String()))
	return strings.ToUpper(strings.TrimRight(code, "=")), nil
}
