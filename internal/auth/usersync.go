package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	svix "github.com/svix/svix-webhooks/go"
)

const (
	UserCreated = "user.created"
	UserUpdated = "user.updated"
	UserDeleted = "user.deleted"
)

var ErrInvalidUserEvent = errors.New("invalid user event")

// UserEvent is a verified identity-provider notification about a user.
type UserEvent struct {
	Type     string
	UserID   string
	Name     string
	Email    string
	ImageURL string
}

type userPayload struct {
	Type string `json:"type"`
	Data struct {
		ID             string `json:"id"`
		FirstName      string `json:"first_name"`
		LastName       string `json:"last_name"`
		ImageURL       string `json:"image_url"`
		EmailAddresses []struct {
			EmailAddress string `json:"email_address"`
		} `json:"email_addresses"`
	} `json:"data"`
}

// UserSync verifies svix-signed user webhooks.
type UserSync struct {
	wh *svix.Webhook
}

func NewUserSync(secret string) (*UserSync, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("init user webhook verifier: %w", err)
	}
	return &UserSync{wh: wh}, nil
}

func (s *UserSync) Verify(payload []byte, headers http.Header) (*UserEvent, error) {
	if err := s.wh.Verify(payload, headers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUserEvent, err)
	}

	var p userPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUserEvent, err)
	}
	if p.Data.ID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidUserEvent)
	}

	event := &UserEvent{
		Type:     p.Type,
		UserID:   p.Data.ID,
		Name:     strings.TrimSpace(p.Data.FirstName + " " + p.Data.LastName),
		ImageURL: p.Data.ImageURL,
	}
	if len(p.Data.EmailAddresses) > 0 {
		event.Email = p.Data.EmailAddresses[0].EmailAddress
	}

	return event, nil
}
