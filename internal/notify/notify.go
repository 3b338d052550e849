// Package notify delivers user-facing notifications such as goal completion.
package notify

import (
	"context"
	"fmt"

	"finapp/internal/core"
	"finapp/internal/log"
)

type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

type Notifier interface {
	Notify(ctx context.Context, user core.User, msg Message) error
}

// GoalCompleted builds the message sent when a goal reaches its target.
func GoalCompleted(goal core.Goal) Message {
	return Message{
		Title: "Goal reached",
		Body:  fmt.Sprintf("You saved %s for %q.", goal.Current, goal.Title),
		Data: map[string]string{
			"type":   "goal.completed",
			"goalId": goal.ID,
		},
	}
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &LogNotifier{logger: logger.WithComponent(log.ComponentNotify)}
}

func (n *LogNotifier) Notify(ctx context.Context, user core.User, msg Message) error {
	n.logger.InfoContext(ctx, "Notification",
		log.FieldUserID, user.ID,
		"title", msg.Title,
		"body", msg.Body)
	return nil
}
