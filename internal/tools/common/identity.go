package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ingeniumai/outreach/internal/models"
	"github.com/ingeniumai/outreach/internal/store"
)

// UserLookup finds users by internal id or Google subject.
type UserLookup interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
	UserByGoogleID(ctx context.Context, googleID string) (*models.User, error)
}

// ResolveUser accepts either the internal user id or the Google subject and
// returns the matching user. The stdio server acts as this user for every
// tool call.
func ResolveUser(ctx context.Context, users UserLookup, ref string) (*models.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("a user id is required")
	}

	u, err := users.UserByID(ctx, ref)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("look up user %s: %w", ref, err)
	}

	u, err = users.UserByGoogleID(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no user with id or google id %q, sign in through the web app first", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("look up user %s: %w", ref, err)
	}
	return u, nil
}
