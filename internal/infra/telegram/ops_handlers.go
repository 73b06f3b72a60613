// internal/infra/telegram/ops_handlers.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"clinic_reminder_dispatch/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const unauthorizedReply = "Error: you are not allowed to run this command."

// OpsHandlers implements the staff commands of the bot.
type OpsHandlers struct {
	ops          *app.OpsService
	cycleTimeout time.Duration
	location     *time.Location
	logger       *logrus.Entry
}

func NewOpsHandlers(ops *app.OpsService, cycleTimeout time.Duration, location *time.Location, logger *logrus.Entry) *OpsHandlers {
	if location == nil {
		location = time.UTC
	}
	return &OpsHandlers{ops: ops, cycleTimeout: cycleTimeout, location: location, logger: logger}
}

// Register binds the commands to the bot.
func (h *OpsHandlers) Register(b *telebot.Bot) {
	b.Handle("/start", h.HandleStart)
	b.Handle("/help", h.HandleHelp)
	b.Handle("/run", h.HandleRun)
	b.Handle("/exhausted", h.HandleExhausted)
}

func (h *OpsHandlers) handlerLogger(command string, c telebot.Context) *logrus.Entry {
	return h.logger.WithFields(logrus.Fields{
		"handler":   command,
		"sender_id": c.Sender().ID,
	})
}

func (h *OpsHandlers) HandleStart(c telebot.Context) error {
	log := h.handlerLogger("/start", c)
	log.Info("Command received")

	if h.ops.IsAdmin(c.Sender().ID) {
		return c.Send(fmt.Sprintf("Hello, %s! Reminder dispatch is running. Use /help for the list of commands.", c.Sender().FirstName))
	}
	return c.Send("Hello! This bot is for clinic staff only.")
}

func (h *OpsHandlers) HandleHelp(c telebot.Context) error {
	log := h.handlerLogger("/help", c)
	log.Info("Command received")

	if !h.ops.IsAdmin(c.Sender().ID) {
		return c.Send("No commands are available to you.")
	}
	var helpText strings.Builder
	helpText.WriteString("Available commands:\n\n")
	helpText.WriteString("`/run`\n - Run a reminder dispatch cycle now.\n\n")
	helpText.WriteString("`/exhausted [limit]`\n - List reminders that failed all retries.\n\n")
	helpText.WriteString("`/help`\n - Show this message.")
	return c.Send(helpText.String(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
}

func (h *OpsHandlers) HandleRun(c telebot.Context) error {
	log := h.handlerLogger("/run", c)
	log.Info("Command received")

	ctx, cancel := context.WithTimeout(context.Background(), h.cycleTimeout)
	defer cancel()

	result, err := h.ops.RunCycle(ctx, c.Sender().ID)
	if err != nil {
		if errors.Is(err, app.ErrAdminNotAuthorized) {
			log.Warn("Unauthorized access attempt")
			return c.Send(unauthorizedReply)
		}
		log.WithError(err).Error("Manual dispatch cycle failed")
		return c.Send(fmt.Sprintf("Dispatch cycle failed: %s", err.Error()))
	}

	log.WithFields(logrus.Fields{
		"sent":    result.Sent,
		"failed":  result.Failed,
		"skipped": result.Skipped,
	}).Info("Manual dispatch cycle completed")
	return c.Send(fmt.Sprintf("Dispatch cycle completed.\nSent: %d\nFailed: %d\nSkipped: %d", result.Sent, result.Failed, result.Skipped))
}

func (h *OpsHandlers) HandleExhausted(c telebot.Context) error {
	log := h.handlerLogger("/exhausted", c)
	log.Info("Command received")

	limit := 0
	if args := c.Args(); len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return c.Send("Invalid command format. Use: /exhausted [limit]")
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exhausted, err := h.ops.ExhaustedForAdmin(ctx, c.Sender().ID, limit)
	if err != nil {
		if errors.Is(err, app.ErrAdminNotAuthorized) {
			log.Warn("Unauthorized access attempt")
			return c.Send(unauthorizedReply)
		}
		log.WithError(err).Error("Failed to list exhausted reminders")
		return c.Send("Could not load exhausted reminders. Please try again later.")
	}
	if len(exhausted) == 0 {
		return c.Send("No exhausted reminders.")
	}

	var reply strings.Builder
	fmt.Fprintf(&reply, "Exhausted reminders (%d):\n", len(exhausted))
	for _, e := range exhausted {
		reply.WriteString("\n")
		reply.WriteString(formatExhausted(e, e.Reminder.RetryCount, e.Reminder.LastError.String, h.location))
		reply.WriteString("\n")
	}
	return c.Send(reply.String())
}
