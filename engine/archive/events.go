package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hexalog/xarchive/pkg/natsutil"
)

const (
	// SavedSubject carries saved-post events.
	SavedSubject = "archive.post.saved"
	// SavedDLQSubject receives events the indexer gave up on.
	SavedDLQSubject = "archive.post.saved.dlq"
	// MaxIndexRetries before an event lands in the DLQ.
	MaxIndexRetries = 3
)

// SavedEvent announces a post was archived. Carries everything the
// indexer needs so consumers never read the database.
type SavedEvent struct {
	PostID    string         `json:"post_id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
	SavedAt   time.Time      `json:"saved_at"`
}

// NATSPublisher publishes saved-post events to NATS.
type NATSPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher wraps a NATS connection as an EventPublisher.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// PublishSaved emits a saved-post event with trace propagation.
func (p *NATSPublisher) PublishSaved(ctx context.Context, ev SavedEvent) error {
	return natsutil.Publish(ctx, p.nc, SavedSubject, ev)
}

// VectorIndex is the subset of the vector store the consumer writes to.
type VectorIndex interface {
	Add(ctx context.Context, id, content string, metadata map[string]any, embedding []float32) error
}

// IndexerDeps holds the index consumer's dependencies.
type IndexerDeps struct {
	Index  VectorIndex
	Logger *slog.Logger
}

// dlqEvent wraps a failed event for the dead letter queue.
type dlqEvent struct {
	Event   SavedEvent `json:"event"`
	Error   string     `json:"error"`
	Retries int        `json:"retries"`
}

// StartIndexConsumer subscribes to saved-post events and upserts each
// into the vector index. Failed events are re-published with an
// incremented X-Retry-Count header; after MaxIndexRetries they go to
// the DLQ subject.
func StartIndexConsumer(nc *nats.Conn, deps IndexerDeps) (*nats.Subscription, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(SavedSubject, func(msg *nats.Msg) {
		var ev SavedEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Error("indexer: unmarshal failed", "error", err)
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		ctx := natsutil.Extract(context.Background(), msg)
		err := deps.Index.Add(ctx, ev.PostID, ev.Content, ev.Metadata, ev.Embedding)
		if err == nil {
			log.Info("indexer: post indexed", "id", ev.PostID)
			return
		}

		retries++
		log.Error("indexer: add failed", "id", ev.PostID, "retry", retries, "error", err)

		if retries >= MaxIndexRetries {
			dlq := dlqEvent{Event: ev, Error: err.Error(), Retries: retries}
			data, _ := json.Marshal(dlq)
			if perr := nc.Publish(SavedDLQSubject, data); perr != nil {
				log.Error("indexer: DLQ publish failed", "id", ev.PostID, "error", perr)
			}
			return
		}

		retryMsg := nats.NewMsg(SavedSubject)
		retryMsg.Data = msg.Data
		retryMsg.Header = nats.Header{}
		retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
		if perr := nc.PublishMsg(retryMsg); perr != nil {
			log.Error("indexer: retry publish failed", "id", ev.PostID, "error", perr)
		}
	})
}
