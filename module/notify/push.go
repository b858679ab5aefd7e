package notify

import (
	"context"

	"chatsync/logger"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// PushProvider multicasts one rendered notification to a token set.
// Per-token failures never fail the batch; tokens the provider reports
// as dead come back in Result.InvalidTokens for deactivation.
type PushProvider interface {
	SendMulticast(ctx context.Context, tokens []string, c Content, data map[string]string) (Result, error)
}

// LogProvider stands in when no push credentials are configured:
// notifications are logged, never dispatched. Useful for dev setups.
type LogProvider struct{}

func (LogProvider) SendMulticast(_ context.Context, tokens []string, c Content, _ map[string]string) (Result, error) {
	logger.Infof("[notify] (dry-run) tokens=%d title=%q body=%q", len(tokens), c.Title, c.Body)
	return Result{SuccessCount: len(tokens)}, nil
}

// fcmTokenLimit is the provider cap per multicast call.
const fcmTokenLimit = 500

type FCM struct {
	client *messaging.Client
}

func NewFCM(ctx context.Context, credentialsFile string) (*FCM, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, errors.Wrap(err, "firebase init")
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "firebase messaging client")
	}
	return &FCM{client: client}, nil
}

func (f *FCM) SendMulticast(ctx context.Context, tokens []string, c Content, data map[string]string) (Result, error) {
	var res Result
	for start := 0; start < len(tokens); start += fcmTokenLimit {
		end := start + fcmTokenLimit
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := tokens[start:end]
		br, err := f.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       chunk,
			Notification: &messaging.Notification{Title: c.Title, Body: c.Body},
			Data:         data,
		})
		if err != nil {
			return res, errors.Wrap(err, "fcm multicast")
		}
		res.SuccessCount += br.SuccessCount
		res.FailureCount += br.FailureCount
		for i, r := range br.Responses {
			if r.Success {
				continue
			}
			if messaging.IsUnregistered(r.Error) || messaging.IsInvalidArgument(r.Error) {
				res.InvalidTokens = append(res.InvalidTokens, chunk[i])
			} else {
				logger.Warnf("[notify] push failed token=%s err=%v", chunk[i], r.Error)
			}
		}
	}
	return res, nil
}
