// README: Firebase Admin SDK initialisation and token verifier.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// Roles carried in the "role" custom claim.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleSystem   = "system"
)

// FirebaseToken holds the verified caller identity used by downstream middleware.
type FirebaseToken struct {
	UID        string
	Role       string
	OperatorID string
	Claims     map[string]interface{}
}

// TokenVerifier verifies a raw Firebase ID token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error)
}

type firebaseVerifier struct {
	client *auth.Client
}

// NewFirebaseVerifier creates a TokenVerifier using the Firebase Admin SDK.
// An empty credentialsFile falls back to application-default credentials.
func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (TokenVerifier, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &firebaseVerifier{client: client}, nil
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return TokenFromClaims(token.UID, token.Claims), nil
}

// TokenFromClaims extracts the role and operator scope from custom claims.
func TokenFromClaims(uid string, claims map[string]interface{}) *FirebaseToken {
	t := &FirebaseToken{UID: uid, Claims: claims}
	if role, ok := claims["role"].(string); ok {
		t.Role = role
	}
	if op, ok := claims["operator_id"].(string); ok {
		t.OperatorID = op
	}
	return t
}
