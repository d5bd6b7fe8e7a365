package moderation

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/agorachat/agora/internal/database"
	"github.com/agorachat/agora/internal/presence"
)

// TaskClassifyMessage is the queue task name for background content
// classification of an already-persisted message.
const TaskClassifyMessage = "moderation:classify"

type ClassifyPayload struct {
	MessageSeqId int    `json:"message_seq_id"`
	RoomId       int    `json:"room_id"`
	UserId       int    `json:"user_id"`
	Content      string `json:"content"`
}

// Enqueuer schedules background classification. The send path calls
// EnqueueClassify after persistence and never waits for the result.
type Enqueuer interface {
	EnqueueClassify(p ClassifyPayload) error
}

type AsynqEnqueuer struct {
	client *asynq.Client
}

func NewAsynqEnqueuer(client *asynq.Client) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client}
}

func (e *AsynqEnqueuer) EnqueueClassify(p ClassifyPayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}

	_, err = e.client.Enqueue(
		asynq.NewTask(TaskClassifyMessage, payload),
		asynq.Queue("moderation"),
		asynq.MaxRetry(3),
	)
	return err
}

// NopEnqueuer drops classification requests. Used when no queue is
// configured and in tests.
type NopEnqueuer struct{}

func (NopEnqueuer) EnqueueClassify(ClassifyPayload) error { return nil }

// RegisterClassifyHandler binds the classification worker to the queue
// server. A flagged message produces a warning record and a notification
// pushed to the author; classification failures are logged and swallowed
// so the already-delivered message is never affected.
func RegisterClassifyHandler(mux *asynq.ServeMux, classifier Classifier, db database.AgoraRepository, registry *presence.Registry, logger *log.Logger) {
	mux.HandleFunc(TaskClassifyMessage, func(ctx context.Context, t *asynq.Task) error {
		var p ClassifyPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			logger.Printf("classify: bad payload: %v", err)
			return nil
		}

		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		flagged, label, err := classifier.Classify(ctx, p.Content)
		if err != nil {
			logger.Printf("classify: message seq %d: %v", p.MessageSeqId, err)
			return nil
		}

		if !flagged {
			return nil
		}

		if _, err := db.CreateWarning(p.UserId, "message flagged: "+label, 0); err != nil {
			logger.Printf("classify: create warning for user %d: %v", p.UserId, err)
			return nil
		}

		notif, err := db.CreateNotification(database.CreateNotificationParams{
			UserId:  p.UserId,
			Kind:    "warning",
			Title:   "Message flagged",
			Content: "One of your messages was flagged by moderation: " + label,
		})
		if err != nil {
			logger.Printf("classify: create notification for user %d: %v", p.UserId, err)
			return nil
		}

		registry.EmitToUser(p.UserId, "warning", map[string]any{
			"notification_id": notif.Id,
			"label":           label,
		})
		return nil
	})
}
