// Package logx carries context-scoped logger annotation helpers.
package logx

import (
	"context"

	"pkt.systems/adjutant/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	userKey contextKey = iota
	chatKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithUser annotates the logger with the user id if present. Skips the
// annotation when the context already carries the same user marker so
// nested calls do not duplicate fields.
func WithUser(ctx context.Context, userID schema.UserID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if userID != "" {
		if current, ok := ctx.Value(userKey).(schema.UserID); ok && current == userID {
			return log
		}
		log = log.With("user", userID)
	}
	return log
}

// WithUserChat annotates the logger with user and chat identifiers.
func WithUserChat(ctx context.Context, userID schema.UserID, chatID schema.ChatID) pslog.Logger {
	log := WithUser(ctx, userID)
	if chatID != "" {
		if current, ok := ctx.Value(chatKey).(schema.ChatID); ok && current == chatID {
			return log
		}
		log = log.With("chat", chatID)
	}
	return log
}

// WithTask annotates the logger with a task id when available.
func WithTask(log pslog.Logger, taskID schema.TaskID) pslog.Logger {
	if taskID != "" {
		log = log.With("task", taskID)
	}
	return log
}

// ContextWithUser stores the user marker on the context for log de-duplication.
func ContextWithUser(ctx context.Context, userID schema.UserID) context.Context {
	if ctx == nil || userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey, userID)
}

// ContextWithChat stores the chat marker on the context for log de-duplication.
func ContextWithChat(ctx context.Context, chatID schema.ChatID) context.Context {
	if ctx == nil || chatID == "" {
		return ctx
	}
	return context.WithValue(ctx, chatKey, chatID)
}

// ContextWithUserChatLogger attaches the logger and user/chat markers to
// the context.
func ContextWithUserChatLogger(ctx context.Context, log pslog.Logger, userID schema.UserID, chatID schema.ChatID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithChat(ContextWithUser(ctx, userID), chatID)
}
