// README: Firebase Admin app shared by ID token verification and FCM push.
package infra

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

var ErrFirebaseProject = errors.New("firebase project id is required")

// FirebaseToken is a verified caller; Claims carries custom claims such as "role".
type FirebaseToken struct {
	UID    string
	Claims map[string]interface{}
}

// TokenVerifier turns a raw bearer token into a verified caller.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error)
}

// Firebase owns the single Admin SDK app of the process.
type Firebase struct {
	app *firebase.App
}

// NewFirebase builds the app. An empty credentialsFile falls back to application-default
// credentials.
func NewFirebase(ctx context.Context, projectID, credentialsFile string) (*Firebase, error) {
	if projectID == "" {
		return nil, ErrFirebaseProject
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	return &Firebase{app: app}, nil
}

type firebaseVerifier struct {
	client *auth.Client
}

func (f *Firebase) Verifier(ctx context.Context) (TokenVerifier, error) {
	client, err := f.app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &firebaseVerifier{client: client}, nil
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &FirebaseToken{UID: token.UID, Claims: token.Claims}, nil
}
