package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ingeniumai/outreach/internal/models"
)

const (
	ProfileURI         = "outreach://user/profile"
	conversationPrefix = "outreach://conversations/"
)

// Users loads the acting user.
type Users interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
}

// Conversations loads a stored thread.
type Conversations interface {
	Conversation(ctx context.Context, userID, conversationID string) ([]*models.Message, error)
}

// Profile is the public view of the acting user. Tokens are never exposed.
type Profile struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	Name             string         `json:"name"`
	ProfileType      string         `json:"profileType,omitempty"`
	ProfileCompleted bool           `json:"profileCompleted"`
	ProfileDetails   map[string]any `json:"profileDetails"`
	MailConnected    bool           `json:"mailConnected"`
	Scopes           []string       `json:"scopes,omitempty"`
}

// RegisterUserResources adds the profile resource and the conversation
// template for userID.
func RegisterUserResources(s *mcpserver.MCPServer, users Users, conversations Conversations, userID string) {
	profile := mcp.NewResource(ProfileURI,
		"Current User Profile",
		mcp.WithResourceDescription("Profile and mail connection state of the acting user"),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(profile, profileHandler(users, userID))

	conversation := mcp.NewResourceTemplate(conversationPrefix+"{id}",
		"Conversation",
		mcp.WithTemplateDescription("All stored messages of a conversation, oldest first"),
		mcp.WithTemplateMIMEType("application/json"),
	)
	s.AddResourceTemplate(conversation, conversationHandler(conversations, userID))
}

type readFunc = func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error)

func profileHandler(users Users, userID string) readFunc {
	return func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		u, err := users.UserByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
		return jsonContents(request.Params.URI, profileOf(u))
	}
}

func conversationHandler(conversations Conversations, userID string) readFunc {
	return func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		id := strings.TrimPrefix(request.Params.URI, conversationPrefix)
		if id == "" || id == request.Params.URI || strings.Contains(id, "/") {
			return nil, fmt.Errorf("invalid conversation uri %q", request.Params.URI)
		}
		msgs, err := conversations.Conversation(ctx, userID, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
		return jsonContents(request.Params.URI, msgs)
	}
}

func profileOf(u *models.User) Profile {
	details := u.ProfileDetails
	if details == nil {
		details = map[string]any{}
	}
	return Profile{
		ID:               u.ID,
		Email:            u.Email,
		Name:             u.Name,
		ProfileType:      string(u.ProfileType),
		ProfileCompleted: u.ProfileCompleted,
		ProfileDetails:   details,
		MailConnected:    u.HasMailAccount(),
		Scopes:           strings.Fields(u.Scopes),
	}
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
