package mail_tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ingeniumai/outreach/internal/dispatch"
	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/models"
	"github.com/ingeniumai/outreach/internal/tools/batch"
	"github.com/ingeniumai/outreach/internal/tools/common"
)

// Mailer is the part of the dispatch service the tools call.
type Mailer interface {
	Send(ctx context.Context, req dispatch.SendRequest) (*models.Message, error)
	Reply(ctx context.Context, req dispatch.ReplyRequest) (*models.Message, error)
	MarkRead(ctx context.Context, userID, messageID string) (bool, error)
	List(ctx context.Context, userID string, filter models.MessageFilter) ([]*models.Message, error)
}

// Deps are the collaborators of the mail tools.
type Deps struct {
	Mailer Mailer
	// UserID is the internal id of the acting user.
	UserID   string
	ReadOnly bool
	Metrics  *instrumentation.Metrics
	Logger   *slog.Logger
}

// RegisterMailTools adds the mail tools to s.
func RegisterMailTools(s *mcpserver.MCPServer, d Deps) error {
	if d.Mailer == nil {
		return fmt.Errorf("mail tools need a mailer")
	}
	h := &handlers{deps: d}
	add := func(tool mcp.Tool, fn common.Handler) {
		s.AddTool(tool, common.InstrumentedToolHandler(tool.Name, d.Metrics, d.Logger, fn))
	}

	add(mcp.NewTool("mail_list",
		mcp.WithDescription("List the newest sent and received messages of the connected mail account"),
		mcp.WithString("type",
			mcp.Description("Only return messages of this type: 'sent' or 'received'"),
			mcp.Enum(string(models.TypeSent), string(models.TypeReceived)),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of messages to return (default: 50, max: 500)"),
		),
		mcp.WithBoolean("unread",
			mcp.Description("Only return unread messages"),
		),
	), h.list)

	if d.ReadOnly {
		return nil
	}

	add(mcp.NewTool("mail_send",
		mcp.WithDescription("Send a new email from the connected mail account. The message is saved before delivery and starts a new conversation."),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Recipient email address"),
		),
		mcp.WithString("toName",
			mcp.Description("Recipient display name"),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Subject line"),
		),
		mcp.WithString("body",
			mcp.Required(),
			mcp.Description("Plain text body"),
		),
		mcp.WithArray("attachments",
			mcp.Description("Names of previously uploaded attachments"),
			mcp.WithStringItems(),
		),
	), h.send)

	add(mcp.NewTool("mail_reply",
		mcp.WithDescription("Reply to a stored message. The reply joins the original conversation, is threaded in Gmail and marks the original as read."),
		mcp.WithString("messageId",
			mcp.Required(),
			mcp.Description("ID of the message to reply to"),
		),
		mcp.WithString("body",
			mcp.Required(),
			mcp.Description("Plain text body"),
		),
		mcp.WithArray("attachments",
			mcp.Description("Names of previously uploaded attachments"),
			mcp.WithStringItems(),
		),
	), h.reply)

	add(mcp.NewTool("mail_mark_read",
		mcp.WithDescription("Mark one or more stored messages as read"),
		mcp.WithString("messageIds",
			mcp.Required(),
			mcp.Description("Message ID (string) or array of message IDs"),
		),
	), h.markRead)

	return nil
}

type handlers struct {
	deps Deps
}

func (h *handlers) send(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	to := stringArg(args, "to")
	if to == "" {
		return mcp.NewToolResultError("'to' field is required"), nil
	}
	subject := stringArg(args, "subject")
	if subject == "" {
		return mcp.NewToolResultError("'subject' field is required"), nil
	}
	body := stringArg(args, "body")
	if body == "" {
		return mcp.NewToolResultError("'body' field is required"), nil
	}
	files, err := attachmentArgs(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	msg, err := h.deps.Mailer.Send(ctx, dispatch.SendRequest{
		UserID:      h.deps.UserID,
		To:          to,
		ToName:      stringArg(args, "toName"),
		Subject:     subject,
		Body:        body,
		Attachments: files,
		Channel:     instrumentation.ChannelMCP,
	})
	if err != nil {
		return common.ErrorResult(err, messageID(msg)), nil
	}
	return jsonResult(msg)
}

func (h *handlers) reply(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	id := stringArg(args, "messageId")
	if id == "" {
		return mcp.NewToolResultError("'messageId' field is required"), nil
	}
	body := stringArg(args, "body")
	if body == "" {
		return mcp.NewToolResultError("'body' field is required"), nil
	}
	files, err := attachmentArgs(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	msg, err := h.deps.Mailer.Reply(ctx, dispatch.ReplyRequest{
		UserID:      h.deps.UserID,
		MessageID:   id,
		Body:        body,
		Attachments: files,
		Channel:     instrumentation.ChannelMCP,
	})
	if err != nil {
		return common.ErrorResult(err, messageID(msg)), nil
	}
	return jsonResult(msg)
}

func (h *handlers) markRead(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, err := batch.ParseIDs(request.GetArguments()["messageIds"], "messageIds")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results := batch.Process(ctx, ids, func(ctx context.Context, id string) (string, error) {
		changed, err := h.deps.Mailer.MarkRead(ctx, h.deps.UserID, id)
		if err != nil {
			return "", err
		}
		if !changed {
			return "already read", nil
		}
		return "marked read", nil
	}, common.ErrorText)

	return mcp.NewToolResultText(batch.Format(results)), nil
}

func (h *handlers) list(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	filter := models.MessageFilter{Type: models.MessageType(stringArg(args, "type"))}
	if v, ok := args["limit"].(float64); ok {
		if v < 0 {
			return mcp.NewToolResultError("'limit' must not be negative"), nil
		}
		filter.Limit = int(v)
	}
	if v, ok := args["unread"].(bool); ok {
		filter.Unread = v
	}

	msgs, err := h.deps.Mailer.List(ctx, h.deps.UserID, filter)
	if err != nil {
		return common.ErrorResult(err, ""), nil
	}
	return jsonResult(msgs)
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

// attachmentArgs turns uploaded attachment names into references the
// dispatch service resolves against the upload directory.
func attachmentArgs(args map[string]any) ([]models.Attachment, error) {
	raw, ok := args["attachments"]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("'attachments' must be an array of names")
	}
	out := make([]models.Attachment, 0, len(items))
	for i, item := range items {
		name, ok := item.(string)
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("attachments[%d] must be a non-empty string", i)
		}
		name = strings.TrimSpace(name)
		out = append(out, models.Attachment{ID: name, Name: name})
	}
	return out, nil
}

func messageID(msg *models.Message) string {
	if msg == nil {
		return ""
	}
	return msg.ID
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
