package auth

import (
	"context"
	"testing"
)

func testService(t *testing.T) *Service {
	t.Helper()
	store, err := NewMemoryStore([]Seed{{
		Username:    "finance-admin",
		Password:    "s3cret",
		Roles:       []string{"admin"},
		Permissions: []string{"tasks:write", "tasks:read"},
	}})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	svc, err := NewService(context.Background(), Config{
		Mode: ModeJWT,
		JWT:  JWTOptions{Secret: "test-secret", Issuer: "fpna"},
	}, store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestAuthenticateRoundTrip(t *testing.T) {
	svc := testService(t)

	pair, err := svc.Authenticate(context.Background(), TokenRequest{
		Username: "finance-admin",
		Password: "s3cret",
	})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if pair.AccessToken == "" || pair.TokenType != "Bearer" {
		t.Fatalf("unexpected token pair: %+v", pair)
	}

	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer "+pair.AccessToken)
	if err != nil {
		t.Fatalf("authenticate request: %v", err)
	}
	if subject.Username != "finance-admin" {
		t.Fatalf("subject = %+v", subject)
	}
	if !subject.HasPermission("tasks:write") {
		t.Fatal("expected tasks:write permission")
	}
}

func TestAuthenticateBadPassword(t *testing.T) {
	svc := testService(t)
	if _, err := svc.Authenticate(context.Background(), TokenRequest{
		Username: "finance-admin",
		Password: "wrong",
	}); err != ErrInvalidCredentials {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthenticateRequestRejectsRefreshToken(t *testing.T) {
	svc := testService(t)
	pair, err := svc.Authenticate(context.Background(), TokenRequest{
		Username: "finance-admin",
		Password: "s3cret",
	})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer "+pair.RefreshToken); err != ErrInvalidToken {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestDisabledModePassesThrough(t *testing.T) {
	svc, err := NewService(context.Background(), Config{Mode: ModeDisabled}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), TokenRequest{}); err != ErrDisabled {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}
