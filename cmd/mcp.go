package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/logging"
	"github.com/ingeniumai/outreach/internal/resources"
	"github.com/ingeniumai/outreach/internal/server"
	"github.com/ingeniumai/outreach/internal/tools/common"
	"github.com/ingeniumai/outreach/internal/tools/mail_tools"
)

func newMCPCmd() *cobra.Command {
	var (
		userRef  string
		readOnly bool
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the mail tools to an MCP client over stdio",
		Long: `Serve mail_send, mail_reply, mail_mark_read and mail_list over stdio.

Every tool call acts as one user, who must have signed in through the web app
so that a refresh token is stored. Pass the internal user id or the Google
account id with --user.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd.Context(), userRef, readOnly)
		},
	}

	cmd.Flags().StringVar(&userRef, "user", os.Getenv("OUTREACH_MCP_USER"), "User id or Google account id to act as (env: OUTREACH_MCP_USER)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Only register mail_list")

	return cmd
}

func runMCP(ctx context.Context, userRef string, readOnly bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	// Metrics have no listener in stdio mode, tracing still applies.
	instrConfig, err := instrumentation.LoadConfig()
	if err != nil {
		return err
	}
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	sc, err := server.NewServerContext(ctx, cfg, log, server.WithInstrumentation(provider))
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := sc.Shutdown(); err != nil {
			log.Error("server context shutdown failed", logging.Err(err))
		}
	}()

	user, err := common.ResolveUser(ctx, sc.Store(), userRef)
	if err != nil {
		return err
	}
	log = logging.WithUser(log, user.ID)
	if !user.HasMailAccount() {
		log.Warn("user has no connected mail account, sends will fail until they sign in again")
	}

	mcpSrv := newMCPServer()
	if err := mail_tools.RegisterMailTools(mcpSrv, mail_tools.Deps{
		Mailer:   sc.Dispatch(),
		UserID:   user.ID,
		ReadOnly: readOnly,
		Metrics:  sc.Metrics(),
		Logger:   log,
	}); err != nil {
		return fmt.Errorf("failed to register mail tools: %w", err)
	}
	resources.RegisterUserResources(mcpSrv, sc.Store(), sc.Dispatch(), user.ID)

	log.Info("serving MCP over stdio", logging.UserID(user.ID), slog.Bool("read_only", readOnly))
	return runStdioServer(ctx, mcpSrv)
}

func newMCPServer() *mcpserver.MCPServer {
	return mcpserver.NewMCPServer("outreach", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false),
	)
}

func runStdioServer(ctx context.Context, mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	select {
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
	case <-ctx.Done():
	}
	return nil
}
