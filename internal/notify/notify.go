package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/you/fanout/internal/domain"
)

type Kind string

const (
	PublishSucceeded Kind = "publish_succeeded"
	PublishFailed    Kind = "publish_failed"
)

// Sink delivers user-facing notifications. Calls are fire-and-forget: a
// sink error must never fail the publish job that raised it.
type Sink interface {
	Notify(ctx context.Context, userID, message string, kind Kind, postID string)
}

// LogSink writes notifications to the structured log. The production sink
// behind the web app is out of scope; this keeps the call sites honest.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Notify(ctx context.Context, userID, message string, kind Kind, postID string) {
	s.log.Info("notify",
		zap.String("user_id", userID),
		zap.String("kind", string(kind)),
		zap.String("post_id", postID),
		zap.String("message", message))
}

// Published formats the success notification for one platform.
func Published(p domain.Platform, url string) string {
	if url == "" {
		return "your post is live on " + string(p)
	}
	return "your post is live on " + string(p) + ": " + url
}

// Failed formats the failure notification for one platform.
func Failed(p domain.Platform, reason string) string {
	return "publishing to " + string(p) + " failed: " + reason
}
