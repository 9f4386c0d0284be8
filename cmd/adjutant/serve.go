package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/adjutant/core"
	"pkt.systems/adjutant/internal/agentproc"
	"pkt.systems/adjutant/internal/appconfig"
	"pkt.systems/adjutant/internal/auth"
	"pkt.systems/adjutant/internal/taskstore"
	"pkt.systems/adjutant/internal/telegram"
	"pkt.systems/adjutant/internal/transcript"
	"pkt.systems/adjutant/schema"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the adjutant session controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Telegram.Token) == "" {
				return errors.New("telegram.token is required (set ADJUTANT_TELEGRAM_TOKEN or telegram.token)")
			}

			transport, err := telegram.NewClient(telegram.Config{
				Token:   cfg.Telegram.Token,
				BaseURL: cfg.Telegram.BaseURL,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			accounts, err := auth.NewStoreWithLogger(cfg.Auth.AccountFile, logger)
			if err != nil {
				return err
			}
			tasks, err := taskstore.NewStoreWithLogger(filepath.Join(cfg.StateDir, "tasks"), logger)
			if err != nil {
				return err
			}
			transcripts, err := transcript.NewStoreWithLogger(filepath.Join(cfg.StateDir, "transcripts"), logger)
			if err != nil {
				return err
			}
			agentEnv := cfg.Agent.Env
			if cfg.Browse.Enabled {
				// The agent runs `$ADJUTANT_BROWSE_BIN browse <url>` when a
				// turn needs rendered page content.
				if exe, exeErr := os.Executable(); exeErr == nil {
					agentEnv = append(agentEnv, "ADJUTANT_BROWSE_BIN="+exe)
				}
			}
			provider := agentproc.NewProvider(agentproc.Config{
				BinaryPath: cfg.Agent.Binary,
				ExtraArgs:  cfg.Agent.Args,
				Env:        agentEnv,
				WorkingDir: cfg.Agent.WorkDir,
				HistoryLoader: func(userID schema.UserID) ([]schema.AgentMessage, error) {
					entries, err := transcripts.Load(userID)
					if err != nil {
						return nil, err
					}
					return agentHistory(entries), nil
				},
			}, logger)

			svc, err := core.NewService(schema.ServiceConfig{
				StateDir:         cfg.StateDir,
				EditThrottle:     time.Duration(cfg.Service.EditThrottleMS) * time.Millisecond,
				ActivityInterval: time.Duration(cfg.Service.ActivityIntervalMS) * time.Millisecond,
				MaxMessageLength: cfg.Service.MaxMessageLength,
				ExcerptMax:       cfg.Service.ExcerptMax,
			}, core.ServiceDeps{
				Agent:       provider,
				Transport:   transport,
				Tasks:       tasks,
				Transcripts: transcripts,
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			d := &dispatcher{
				svc:       svc,
				accounts:  accounts,
				transport: transport,
				log:       logger,
			}
			logger.Info("adjutant serving", "state_dir", cfg.StateDir, "agent", cfg.Agent.Binary)
			return pollUpdates(cmd.Context(), transport, cfg.Telegram.PollTimeoutSeconds, logger, d.handle)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

// agentHistory converts persisted transcript entries into the agent's
// working-memory shape so a restarted process picks the conversation
// back up where it left off.
func agentHistory(entries []schema.TranscriptEntry) []schema.AgentMessage {
	messages := make([]schema.AgentMessage, 0, len(entries))
	for _, entry := range entries {
		messages = append(messages, schema.AgentMessage{
			Role:     entry.Role,
			Segments: []string{entry.Content},
		})
	}
	return messages
}

// pollUpdates long-polls the transport and hands each inbound message
// to handle. Poll failures back off instead of killing the loop.
func pollUpdates(ctx context.Context, client *telegram.Client, timeoutSeconds int, log pslog.Logger, handle func(context.Context, *telegram.Message)) error {
	var offset int64
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := client.GetUpdates(ctx, offset, timeoutSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("update poll failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if update.Message == nil || strings.TrimSpace(update.Message.Text) == "" {
				continue
			}
			handle(ctx, update.Message)
		}
	}
}

// dispatcher routes inbound chat messages: pairing from unknown chats,
// slash commands, and plain prompts into agent turns.
type dispatcher struct {
	svc       core.Service
	accounts  *auth.Store
	transport core.ChatTransport
	log       pslog.Logger
}

func (d *dispatcher) handle(ctx context.Context, message *telegram.Message) {
	chatID := message.ChatID()
	text := strings.TrimSpace(message.Text)

	command, rest := splitCommand(text)
	if command == "/pair" {
		d.reply(ctx, chatID, d.handlePair(chatID, rest))
		return
	}

	userID, err := d.accounts.UserForChat(chatID)
	if err != nil {
		if errors.Is(err, schema.ErrChatNotPaired) {
			d.reply(ctx, chatID, "This chat is not paired. Use /pair <username> <passphrase> <totp>.")
		} else {
			d.log.Warn("chat lookup failed", "chat", string(chatID), "err", err)
		}
		return
	}

	switch command {
	case "/tasks":
		d.reply(ctx, chatID, d.handleTasks(ctx, userID))
	case "/newtask":
		d.reply(ctx, chatID, d.handleNewTask(ctx, userID, rest))
	case "/done":
		d.reply(ctx, chatID, d.handleDone(ctx, userID, rest))
	case "/forget":
		d.reply(ctx, chatID, d.handleForget(ctx, userID))
	case "":
		// Turns stream for a while; dispatch them off the poll loop so
		// other chats keep getting served.
		go d.runTurn(ctx, userID, chatID, text)
	default:
		d.reply(ctx, chatID, fmt.Sprintf("Unknown command %s.", command))
	}
}

// splitCommand separates a leading slash command from its arguments.
// Non-command text returns an empty command.
func splitCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	parts := strings.SplitN(text, " ", 2)
	command := strings.ToLower(parts[0])
	// Commands may arrive as /cmd@botname in group chats.
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	if len(parts) == 1 {
		return command, ""
	}
	return command, strings.TrimSpace(parts[1])
}

func (d *dispatcher) handlePair(chatID schema.ChatID, rest string) string {
	fields := strings.Fields(rest)
	if len(fields) != 3 {
		return "Usage: /pair <username> <passphrase> <totp>"
	}
	if err := d.accounts.Pair(fields[0], fields[1], fields[2], chatID); err != nil {
		d.log.Warn("pairing failed", "chat", string(chatID), "user", fields[0], "err", err)
		return "Pairing failed."
	}
	return fmt.Sprintf("Paired. Hello %s.", fields[0])
}

func (d *dispatcher) handleTasks(ctx context.Context, userID schema.UserID) string {
	resp, err := d.svc.ListTasks(ctx, schema.ListTasksRequest{UserID: userID})
	if err != nil {
		return "Could not list tasks."
	}
	if len(resp.Tasks) == 0 {
		return "No tasks."
	}
	var b strings.Builder
	for _, task := range resp.Tasks {
		fmt.Fprintf(&b, "%s [%s/%s] %s\n", task.ID, task.Status, task.Priority, task.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *dispatcher) handleNewTask(ctx context.Context, userID schema.UserID, rest string) string {
	if strings.TrimSpace(rest) == "" {
		return "Usage: /newtask <title>"
	}
	title := strings.TrimSpace(rest)
	resp, err := d.svc.UpsertTask(ctx, schema.UpsertTaskRequest{
		UserID: userID,
		Update: schema.TaskUpdate{Title: &title},
	})
	if err != nil {
		return "Could not create the task."
	}
	return fmt.Sprintf("Created task %s: %s", resp.Task.ID, resp.Task.Title)
}

func (d *dispatcher) handleDone(ctx context.Context, userID schema.UserID, rest string) string {
	fields := strings.SplitN(strings.TrimSpace(rest), " ", 2)
	if fields[0] == "" {
		return "Usage: /done <task-id> [summary]"
	}
	summary := ""
	if len(fields) == 2 {
		summary = strings.TrimSpace(fields[1])
	}
	resp, err := d.svc.CompleteTask(ctx, schema.CompleteTaskRequest{
		UserID:  userID,
		TaskID:  schema.TaskID(fields[0]),
		Summary: summary,
	})
	if err != nil {
		if errors.Is(err, schema.ErrTaskNotFound) {
			return "No such task."
		}
		return "Could not complete the task."
	}
	return fmt.Sprintf("Completed task %s: %s", resp.Task.ID, resp.Task.Title)
}

func (d *dispatcher) handleForget(ctx context.Context, userID schema.UserID) string {
	if err := d.svc.ClearTranscript(ctx, schema.ClearTranscriptRequest{UserID: userID}); err != nil {
		return "Could not clear the transcript."
	}
	return "Transcript cleared."
}

func (d *dispatcher) runTurn(ctx context.Context, userID schema.UserID, chatID schema.ChatID, prompt string) {
	_, err := d.svc.RunTurn(ctx, schema.TurnRequest{UserID: userID, ChatID: chatID, Prompt: prompt})
	switch {
	case err == nil:
	case errors.Is(err, schema.ErrTurnActive):
		d.reply(ctx, chatID, "Still working on your previous message.")
	default:
		d.log.Error("turn failed", "user", string(userID), "err", err)
		d.reply(ctx, chatID, "Something went wrong running that.")
	}
}

func (d *dispatcher) reply(ctx context.Context, chatID schema.ChatID, text string) {
	if text == "" {
		return
	}
	if _, err := d.transport.Create(ctx, chatID, text, nil); err != nil {
		d.log.Warn("reply failed", "chat", string(chatID), "err", err)
	}
}
