package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"golang.org/x/net/websocket"

	"github.com/kalambet/interviewd/internal/api"
	"github.com/kalambet/interviewd/internal/config"
	"github.com/kalambet/interviewd/internal/session"
	"github.com/kalambet/interviewd/internal/storage"
)

// --- login ---

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in to the server and remember the username locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAnonymousClient()
		if err != nil {
			return err
		}
		owner, err := login(cmd.Context(), client, args[0], ownerFilePath())
		if err != nil {
			return err
		}
		printSuccess("Logged in as %s", owner)
		return nil
	},
}

func login(ctx context.Context, c *apiClient, username, ownerPath string) (string, error) {
	username = strings.TrimSpace(username)
	resp, err := c.post(ctx, "/auth/login", map[string]string{"username": username})
	if err != nil {
		return "", err
	}
	var result struct {
		Success bool `json:"success"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return "", err
	}
	if !result.Success {
		return "", errors.New("login rejected by server")
	}
	if err := writeOwner(ownerPath, username); err != nil {
		return "", fmt.Errorf("saving login: %w", err)
	}
	return username, nil
}

// --- interviews ---

var interviewsCmd = &cobra.Command{
	Use:     "interviews",
	Aliases: []string{"interview"},
	Short:   "List, create and inspect interviews",
}

var interviewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your interviews, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listInterviews(cmd.Context(), client, cmd.OutOrStdout())
	},
}

var interviewsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an interview",
	Long: `Create an interview.

Examples:
  interviewd interviews create --title "Frontend Developer Interview" --skills React,TypeScript
  interviewd interviews create --title "Technical Lead Interview" --skills NodeJS,Python`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		skillsStr, _ := cmd.Flags().GetString("skills")
		if title == "" || skillsStr == "" {
			return errors.New("--title and --skills are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		id, err := createInterview(cmd.Context(), client, title, splitList(skillsStr))
		if err != nil {
			return err
		}
		printSuccess("Created interview %s", id)
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var interviewsShowCmd = &cobra.Command{
	Use:   "show <interview-id>",
	Short: "Show an interview and its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		detail, err := getInterview(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(detail)
		}
		printDetail(cmd.OutOrStdout(), detail)
		return nil
	},
}

var interviewsStatusCmd = &cobra.Command{
	Use:   "status <interview-id> <status>",
	Short: "Set an interview's status",
	Long: `Set an interview's status.

Statuses: created, pending, in_progress, completed, cancelled`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := setStatus(cmd.Context(), client, args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Interview %s is now %s", args[0], args[1])
		return nil
	},
}

func init() {
	interviewsCreateCmd.Flags().String("title", "", "job title")
	interviewsCreateCmd.Flags().String("skills", "", "comma-separated skills")
	interviewsShowCmd.Flags().Bool("json", false, "print raw JSON")

	interviewsCmd.AddCommand(interviewsListCmd)
	interviewsCmd.AddCommand(interviewsCreateCmd)
	interviewsCmd.AddCommand(interviewsShowCmd)
	interviewsCmd.AddCommand(interviewsStatusCmd)
}

func listInterviews(ctx context.Context, c *apiClient, w io.Writer) error {
	resp, err := c.get(ctx, "/interviews")
	if err != nil {
		return err
	}
	var list []storage.InterviewSummary
	if err := decodeJSON(resp, &list); err != nil {
		return err
	}
	if len(list) == 0 {
		printWarning("No interviews yet")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tSKILLS\tCREATED")
	for _, iv := range list {
		skills := make([]string, len(iv.Skills))
		for i, s := range iv.Skills {
			skills[i] = string(s)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			iv.InterviewID, iv.Title, iv.Status, strings.Join(skills, ","), formatMillis(iv.CreatedAt))
	}
	return tw.Flush()
}

func createInterview(ctx context.Context, c *apiClient, title string, skills []string) (string, error) {
	resp, err := c.post(ctx, "/interviews", map[string]any{"title": title, "skills": skills})
	if err != nil {
		return "", err
	}
	var result struct {
		Success     bool   `json:"success"`
		InterviewID string `json:"interviewId"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return "", err
	}
	if result.InterviewID == "" {
		return "", errors.New("server did not return an interview id")
	}
	return result.InterviewID, nil
}

func getInterview(ctx context.Context, c *apiClient, id string) (storage.InterviewDetail, error) {
	resp, err := c.get(ctx, "/interviews/"+url.PathEscape(id))
	if err != nil {
		return storage.InterviewDetail{}, err
	}
	var detail storage.InterviewDetail
	if err := decodeJSON(resp, &detail); err != nil {
		return storage.InterviewDetail{}, err
	}
	return detail, nil
}

func setStatus(ctx context.Context, c *apiClient, id, status string) error {
	resp, err := c.patch(ctx, "/interviews/"+url.PathEscape(id), map[string]string{"status": status})
	if err != nil {
		return err
	}
	var result map[string]any
	return decodeJSON(resp, &result)
}

// --- message ---

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Append messages to a transcript",
}

var messageSendCmd = &cobra.Command{
	Use:   "send <interview-id> <content>",
	Short: "Append a message to an interview",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		id, _ := cmd.Flags().GetString("id")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		msg, err := sendMessage(cmd.Context(), client, args[0], role, args[1], id)
		if err != nil {
			return err
		}
		printSuccess("Appended message %s", msg.MessageID)
		return nil
	},
}

func init() {
	messageSendCmd.Flags().String("role", string(storage.RoleUser), "message role: user, assistant or system")
	messageSendCmd.Flags().String("id", "", "message id (default: a new ULID)")
	messageCmd.AddCommand(messageSendCmd)
}

// sendMessage appends one message. Retrying with the same messageID is safe: the server
// answers a duplicate with 409 instead of storing it twice.
func sendMessage(ctx context.Context, c *apiClient, interviewID, role, content, messageID string) (storage.Message, error) {
	if messageID == "" {
		messageID = ulid.Make().String()
	}
	resp, err := c.post(ctx, "/interviews/"+url.PathEscape(interviewID)+"/messages", map[string]string{
		"messageId": messageID,
		"role":      role,
		"content":   content,
	})
	if err != nil {
		return storage.Message{}, err
	}
	var msg storage.Message
	if err := decodeJSON(resp, &msg); err != nil {
		return storage.Message{}, err
	}
	return msg, nil
}

// --- resume ---

var resumeCmd = &cobra.Command{
	Use:   "resume <interview-id> <file.pdf>",
	Short: "Attach a PDF resume to an interview as a system message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		msg, err := uploadResume(cmd.Context(), client, args[0], args[1])
		if err != nil {
			return err
		}
		printSuccess("Attached resume as message %s (%d characters)", msg.MessageID, len(msg.Content))
		return nil
	},
}

func uploadResume(ctx context.Context, c *apiClient, interviewID, path string) (storage.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return storage.Message{}, fmt.Errorf("reading file: %w", err)
	}
	resp, err := c.upload(ctx, "/interviews/"+url.PathEscape(interviewID)+"/resume", filepath.Base(path), data)
	if err != nil {
		return storage.Message{}, err
	}
	var msg storage.Message
	if err := decodeJSON(resp, &msg); err != nil {
		return storage.Message{}, err
	}
	return msg, nil
}

// --- watch ---

var watchCmd = &cobra.Command{
	Use:   "watch <interview-id>",
	Short: "Stream an interview's transcript as messages arrive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return watchInterview(cmd.Context(), client, args[0], cmd.OutOrStdout())
	},
}

// watchInterview prints every frame from the interview's live stream until ctx is done
// or the server closes the connection.
func watchInterview(ctx context.Context, c *apiClient, interviewID string, w io.Writer) error {
	ws, err := c.dial("/interviews/" + url.PathEscape(interviewID))
	if err != nil {
		return err
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	printStep("Watching interview %s (Ctrl-C to stop)", interviewID)
	for {
		var raw []byte
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading stream: %w", err)
		}
		if err := printFrame(w, raw); err != nil {
			printWarning("skipping frame: %v", err)
		}
	}
}

func printFrame(w io.Writer, raw []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return err
	}
	switch head.Type {
	case session.FrameInterviewDetails:
		var f session.SnapshotFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		printDetail(w, f.Data)
	case session.FrameMessage:
		var f session.MessageFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		printMessage(w, f.Message)
	default:
		return fmt.Errorf("unknown frame type %q", head.Type)
	}
	return nil
}

func printDetail(w io.Writer, d storage.InterviewDetail) {
	fmt.Fprintf(w, "%s  %s\n", colorize(colorBold, string(d.Title)), colorize(colorCyan, string(d.Status)))
	skills := make([]string, len(d.Skills))
	for i, s := range d.Skills {
		skills[i] = string(s)
	}
	fmt.Fprintf(w, "  id: %s\n  skills: %s\n  created: %s\n  updated: %s\n",
		d.InterviewID, strings.Join(skills, ", "), formatMillis(d.CreatedAt), formatMillis(d.UpdatedAt))
	for _, m := range d.Messages {
		printMessage(w, m)
	}
}

func printMessage(w io.Writer, m storage.Message) {
	role := string(m.Role)
	switch m.Role {
	case storage.RoleAssistant:
		role = colorize(colorGreen, role)
	case storage.RoleSystem:
		role = colorize(colorYellow, role)
	default:
		role = colorize(colorCyan, role)
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", formatMillis(m.Timestamp), role, m.Content)
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		printConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nKeys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(configPath, key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func printConfig(w io.Writer, cfg config.Config) {
	for _, k := range config.ShowAll(cfg) {
		fmt.Fprintf(w, "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
	}
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve one owner's interviews over MCP (stdio transport)",
	Long: `Serve one owner's interviews over MCP on stdin/stdout.

The owner comes from --owner, then mcp.owner, then the saved login. Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		owner := ownerFlag
		if owner == "" {
			owner = cfg.MCP.Owner
		}
		if owner == "" {
			if owner, err = readOwner(ownerFilePath()); err != nil {
				return err
			}
		}

		host := session.NewHost(session.HostConfig{
			DataDir:   cfg.Storage.DataDir,
			SendQueue: cfg.Session.SendQueue,
			Logger:    logger,
		})
		defer host.Close()

		sess, err := host.Get(cmd.Context(), owner)
		if err != nil {
			return err
		}

		mcpSrv := api.NewMCPServer(api.MCPDeps{Session: sess})
		stdio := server.NewStdioServer(mcpSrv)
		logger.Info("MCP server started (stdio transport)", "owner", owner)
		if err := stdio.Listen(cmd.Context(), os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}
