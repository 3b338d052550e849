package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"finapp/internal/core"
	"finapp/internal/log"
)

const fcmBatchLimit = 500

// TokenRemover drops a device token the push service no longer accepts.
type TokenRemover func(ctx context.Context, userID, token string) error

type multicaster interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMNotifier pushes to every device token registered on the user.
type FCMNotifier struct {
	client         multicaster
	remove         TokenRemover
	isInvalidToken func(error) bool
	logger         *log.Logger
}

func NewFCMNotifier(ctx context.Context, projectID, credentialsFile string, remove TokenRemover, logger *log.Logger) (*FCMNotifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase messaging client: %w", err)
	}
	return newFCMNotifier(client, remove, logger), nil
}

func newFCMNotifier(client multicaster, remove TokenRemover, logger *log.Logger) *FCMNotifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &FCMNotifier{
		client: client,
		remove: remove,
		isInvalidToken: func(err error) bool {
			return messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err)
		},
		logger: logger.WithComponent(log.ComponentNotify),
	}
}

func (n *FCMNotifier) Notify(ctx context.Context, user core.User, msg Message) error {
	if len(user.DeviceTokens) == 0 {
		n.logger.DebugContext(ctx, "No device tokens, skipping push", log.FieldUserID, user.ID)
		return nil
	}

	var success, failure int
	for _, batch := range chunkTokens(user.DeviceTokens, fcmBatchLimit) {
		resp, err := n.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: batch,
			Notification: &messaging.Notification{
				Title: msg.Title,
				Body:  msg.Body,
			},
			Data: msg.Data,
		})
		if err != nil {
			return fmt.Errorf("send FCM multicast: %w", err)
		}
		success += resp.SuccessCount
		failure += resp.FailureCount
		if resp.FailureCount > 0 {
			n.handleFailures(ctx, user.ID, batch, resp)
		}
	}

	n.logger.InfoContext(ctx, "Push sent",
		log.FieldUserID, user.ID,
		"success", success,
		"failure", failure)
	return nil
}

func (n *FCMNotifier) handleFailures(ctx context.Context, userID string, tokens []string, resp *messaging.BatchResponse) {
	for i, r := range resp.Responses {
		if r.Error == nil || i >= len(tokens) {
			continue
		}
		if !n.isInvalidToken(r.Error) {
			n.logger.WarnContext(ctx, "FCM send error", log.FieldUserID, userID, log.FieldError, r.Error.Error())
			continue
		}
		if n.remove == nil {
			continue
		}
		if err := n.remove(ctx, userID, tokens[i]); err != nil {
			n.logger.WarnContext(ctx, "Failed to remove invalid device token", log.FieldUserID, userID, log.FieldError, err.Error())
		}
	}
}

func chunkTokens(tokens []string, size int) [][]string {
	var chunks [][]string
	for i := 0; i < len(tokens); i += size {
		end := min(i+size, len(tokens))
		chunks = append(chunks, tokens[i:end])
	}
	return chunks
}
