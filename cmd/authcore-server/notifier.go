package main

import (
	"context"
	"log/slog"
	"time"
)

// logNotifier stands in for SMS and email delivery. Secrets are never
// logged.
type logNotifier struct {
	log *slog.Logger
}

func (n logNotifier) SendOTP(ctx context.Context, identifier, purpose, _ string, expiresAt time.Time) error {
	n.log.InfoContext(ctx, "otp issued", "purpose", purpose, "recipient_len", len(identifier), "expires_at", expiresAt)
	return nil
}

func (n logNotifier) SendPasswordReset(ctx context.Context, identifier, _ string, expiresAt time.Time) error {
	n.log.InfoContext(ctx, "password reset issued", "recipient_len", len(identifier), "expires_at", expiresAt)
	return nil
}

func (n logNotifier) SendEmailVerification(ctx context.Context, email, _ string, expiresAt time.Time) error {
	n.log.InfoContext(ctx, "email verification issued", "recipient_len", len(email), "expires_at", expiresAt)
	return nil
}
