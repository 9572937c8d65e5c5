package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/restcore/internal/ir"
)

// Internal email verification fields stored on _User rows.
const (
	EmailVerifyTokenField          = "_email_verify_token"
	EmailVerifyTokenExpiresAtField = "_email_verify_token_expires_at"
)

// VerificationEmail is a request to send one verification message.
type VerificationEmail struct {
	AppName  string
	Link     string
	Username string
	Email    string
}

// MailAdapter delivers user emails.
type MailAdapter interface {
	SendVerificationEmail(ctx context.Context, msg VerificationEmail) error
}

// LogMailAdapter writes messages to a logger instead of sending them.
type LogMailAdapter struct {
	Logger *slog.Logger
}

// SendVerificationEmail logs msg.
func (a LogMailAdapter) SendVerificationEmail(ctx context.Context, msg VerificationEmail) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "verification email", "to", msg.Email, "username", msg.Username, "link", msg.Link)
	return nil
}

// UserController manages email verification state on users.
type UserController struct {
	// VerifyEmails enables verification tokens and emails.
	VerifyEmails bool
	// TokenValidity bounds the life of a verification token. Zero means
	// tokens never expire.
	TokenValidity time.Duration
	BaseURL       string
	AppID         string
	AppName       string
	Mail          MailAdapter
	Now           func() time.Time
}

// SetEmailVerifyToken stamps a fresh verification token on user and marks
// its email unverified. No-op when verification is disabled.
func (u *UserController) SetEmailVerifyToken(user ir.Object) {
	if !u.VerifyEmails {
		return
	}
	user[EmailVerifyTokenField] = strings.ReplaceAll(uuid.NewString(), "-", "")
	user["emailVerified"] = false
	if u.TokenValidity > 0 {
		now := time.Now
		if u.Now != nil {
			now = u.Now
		}
		user[EmailVerifyTokenExpiresAtField] = ir.NewDate(now().Add(u.TokenValidity))
	}
}

// SendVerificationEmail sends the verification link for user, which must
// carry its verification token.
func (u *UserController) SendVerificationEmail(ctx context.Context, user ir.Object) error {
	if !u.VerifyEmails {
		return nil
	}
	token, _ := user[EmailVerifyTokenField].(string)
	if token == "" {
		return fmt.Errorf("user %s has no verification token", ir.ObjectID(user))
	}
	username, _ := user["username"].(string)
	email, _ := user["email"].(string)

	q := url.Values{}
	q.Set("token", token)
	q.Set("username", username)
	link := fmt.Sprintf("%s/apps/%s/verify_email?%s", strings.TrimSuffix(u.BaseURL, "/"), url.PathEscape(u.AppID), q.Encode())

	mail := u.Mail
	if mail == nil {
		mail = LogMailAdapter{}
	}
	return mail.SendVerificationEmail(ctx, VerificationEmail{
		AppName:  u.AppName,
		Link:     link,
		Username: username,
		Email:    email,
	})
}
