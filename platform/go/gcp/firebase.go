package gcp

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// GetApp creates a Firebase App instance. An empty credentialsFile uses Application
// Default Credentials.
func GetApp(ctx context.Context, credentialsFile string) (*firebase.App, error) {
	if credentialsFile != "" {
		return firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	}
	return firebase.NewApp(ctx, nil)
}

// InitFirebaseAuth initializes the Firebase App and returns an Auth client.
func InitFirebaseAuth(ctx context.Context, credentialsFile string) (*firebaseauth.Client, error) {
	firebaseApp, err := GetApp(ctx, credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	fbAuth, err := firebaseApp.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase auth: %w", err)
	}

	return fbAuth, nil
}
