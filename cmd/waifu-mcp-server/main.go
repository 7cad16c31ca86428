package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"waifu-chat/internal/chat"
	"waifu-chat/internal/config"
	"waifu-chat/internal/dialog"
	"waifu-chat/internal/scheduler"
	"waifu-chat/internal/stats"
	"waifu-chat/internal/storage"
	"waifu-chat/internal/store"
)

// UserParams идентифицирует пользователя в запросе
type UserParams struct {
	UserID string `json:"user_id" mcp:"the unique identifier of the user"`
}

// ChatParams параметры для отправки сообщения
type ChatParams struct {
	UserID  string `json:"user_id" mcp:"the unique identifier of the user"`
	Message string `json:"message" mcp:"the chat message sent by the user"`
}

// ListUsersParams параметры постраничного списка пользователей
type ListUsersParams struct {
	Page int `json:"page,omitempty" mcp:"zero-indexed page, 100 users per page"`
}

// EmptyParams для инструментов без аргументов
type EmptyParams struct{}

// WaifuMCPServer связывает MCP инструменты с хранилищем и чатом
type WaifuMCPServer struct {
	store *store.Store
	chat  *chat.Service
}

func textResult(v any) (*mcp.CallToolResultFor[any], error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}, nil
}

func errorResult(format string, args ...any) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func (s *WaifuMCPServer) CreateUser(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[UserParams]) (*mcp.CallToolResultFor[any], error) {
	userID := params.Arguments.UserID
	if userID == "" {
		return errorResult("❌ user_id is required"), nil
	}
	if err := s.store.CreateUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return errorResult("❌ User %s already exists", userID), nil
		}
		return nil, err
	}
	log.Printf("👤 Created user %s", userID)
	return textResult(map[string]string{"user_id": userID})
}

func (s *WaifuMCPServer) CheckUser(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[UserParams]) (*mcp.CallToolResultFor[any], error) {
	userID := params.Arguments.UserID
	exists, err := s.store.UserExists(ctx, userID)
	if err != nil {
		return nil, err
	}
	return textResult(map[string]any{"user_id": userID, "exists": exists})
}

func (s *WaifuMCPServer) DeleteUser(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[UserParams]) (*mcp.CallToolResultFor[any], error) {
	userID := params.Arguments.UserID
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return errorResult("❌ User %s not found", userID), nil
		}
		return nil, err
	}
	log.Printf("🗑 Deleted user %s", userID)
	return textResult(map[string]string{"user_id": userID})
}

func (s *WaifuMCPServer) UserCount(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[EmptyParams]) (*mcp.CallToolResultFor[any], error) {
	count, err := s.store.UserCount(ctx)
	if err != nil {
		return nil, err
	}
	return textResult(map[string]int{"user_count": count})
}

func (s *WaifuMCPServer) ListUsers(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[ListUsersParams]) (*mcp.CallToolResultFor[any], error) {
	page := params.Arguments.Page
	users, err := s.store.ListUsers(ctx, page)
	if err != nil {
		return nil, err
	}
	return textResult(map[string]any{"page": page, "users": users})
}

func (s *WaifuMCPServer) UserMetadata(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[UserParams]) (*mcp.CallToolResultFor[any], error) {
	userID := params.Arguments.UserID
	meta, err := s.store.UserMetadata(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return errorResult("❌ User %s not found", userID), nil
		}
		return nil, err
	}
	return textResult(map[string]any{
		"user_id":       meta.UserID,
		"created_at":    meta.CreatedAt.Format(time.RFC3339),
		"last_modified": meta.LastModified.Format(time.RFC3339),
	})
}

func (s *WaifuMCPServer) ResetDialog(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[UserParams]) (*mcp.CallToolResultFor[any], error) {
	userID := params.Arguments.UserID
	if err := s.store.ResetDialog(ctx, userID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return errorResult("❌ User %s not found", userID), nil
		}
		return nil, err
	}
	log.Printf("🔄 Reset dialog for user %s", userID)
	return textResult(map[string]string{"user_id": userID})
}

func (s *WaifuMCPServer) GetDialogJSON(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[UserParams]) (*mcp.CallToolResultFor[any], error) {
	userID := params.Arguments.UserID
	history, err := s.store.GetDialog(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return errorResult("❌ User %s not found", userID), nil
		}
		return nil, err
	}
	return textResult(map[string]any{"user_id": userID, "dialog": history})
}

func (s *WaifuMCPServer) GetDialogStr(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[UserParams]) (*mcp.CallToolResultFor[any], error) {
	userID := params.Arguments.UserID
	history, err := s.store.GetDialog(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return errorResult("❌ User %s not found", userID), nil
		}
		return nil, err
	}
	return textResult(map[string]string{"user_id": userID, "dialog": dialog.Transcript(history)})
}

func (s *WaifuMCPServer) Chat(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[ChatParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	if args.UserID == "" || args.Message == "" {
		return errorResult("❌ user_id and message are required"), nil
	}
	reply, err := s.chat.Chat(ctx, args.UserID, args.Message)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return errorResult("❌ User %s not found", args.UserID), nil
		}
		// Storage failure: the transcript cannot be guaranteed, surface it.
		return nil, err
	}
	return textResult(map[string]string{"user_id": args.UserID, "response": reply})
}

func (s *WaifuMCPServer) ServerStatus(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[EmptyParams]) (*mcp.CallToolResultFor[any], error) {
	return textResult(map[string]string{"status": "ok"})
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	cfg := config.New()

	log.Printf("🚀 Starting Waifu Chat MCP Server")

	st, err := store.Open(cfg.DatabaseFile)
	if err != nil {
		log.Fatalf("❌ Failed to open dialog store: %v", err)
	}
	defer st.Close()
	log.Printf("💾 Dialog store ready at %s", cfg.DatabaseFile)

	var rec storage.Recorder
	var fileRec *storage.FileRecorder
	if cfg.AuditLogPath != "" {
		fr, err := storage.NewFileRecorder(cfg.AuditLogPath)
		if err != nil {
			log.Printf("failed to init interaction log: %v", err)
		} else {
			fileRec = fr
			rec = fr
		}
	}

	waifu := &WaifuMCPServer{
		store: st,
		chat:  chat.New(st, cfg, rec),
	}

	if fileRec != nil {
		sched := scheduler.New(cfg.StatsCronSpec)
		sched.SetReportFunction(func(ctx context.Context) error {
			events, err := fileRec.LoadInteractions()
			if err != nil {
				return err
			}
			report, err := stats.FormatReport(stats.AnalyzeDailyLogs(events, time.Now().UTC()))
			if err != nil {
				return err
			}
			log.Printf("📊 Daily usage report:\n%s", report)
			return nil
		})
		if err := sched.Start(); err != nil {
			log.Printf("failed to start scheduler: %v", err)
		}
		defer sched.Stop()
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "waifu-chat-mcp",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_user",
		Description: "Creates a new user with an empty dialog history",
	}, waifu.CreateUser)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_user",
		Description: "Checks whether a user exists",
	}, waifu.CheckUser)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_user",
		Description: "Deletes a user and their whole dialog history",
	}, waifu.DeleteUser)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "user_count",
		Description: "Gets the total number of users",
	}, waifu.UserCount)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_users",
		Description: "Lists user IDs page by page, most recently active first",
	}, waifu.ListUsers)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "user_metadata",
		Description: "Gets creation and last-modified timestamps for a user",
	}, waifu.UserMetadata)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reset_dialog",
		Description: "Resets the user's dialog history without deleting the user",
	}, waifu.ResetDialog)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_dialog_json",
		Description: "Gets the user's dialog history as a structured JSON list",
	}, waifu.GetDialogJSON)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_dialog_str",
		Description: "Gets the user's dialog history as a readable transcript",
	}, waifu.GetDialogStr)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat",
		Description: "Sends a chat message and returns the waifu's reply",
	}, waifu.Chat)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "server_status",
		Description: "Reports server health",
	}, waifu.ServerStatus)

	log.Printf("📋 Registered 11 tools")
	log.Printf("🔗 Starting server on stdin/stdout...")

	transport := mcp.NewStdioTransport()
	if err := server.Run(context.Background(), transport); err != nil {
		log.Fatalf("❌ Server failed: %v", err)
	}
}
