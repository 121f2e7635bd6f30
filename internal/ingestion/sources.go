package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// eventPayload is the correlation engine's wire format.
type eventPayload struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	AlertIDs   []string        `json:"alert_ids"`
	Severity   string          `json:"severity"`
	DetectedAt time.Time       `json:"detected_at"`
	ResolvedAt *time.Time      `json:"resolved_at"`
	Metadata   json.RawMessage `json:"metadata"`
}

type eventsResponse struct {
	Events []eventPayload `json:"events"`
}

func (p eventPayload) toModel() *models.CorrelationEvent {
	e := &models.CorrelationEvent{
		ID:         p.ID,
		Type:       p.Type,
		AlertIDs:   p.AlertIDs,
		Severity:   p.Severity,
		DetectedAt: p.DetectedAt.UTC(),
	}
	if p.ResolvedAt != nil {
		r := p.ResolvedAt.UTC()
		e.ResolvedAt = &r
	}
	if len(p.Metadata) > 0 && !bytes.Equal(p.Metadata, []byte("null")) {
		e.Metadata = string(p.Metadata)
	}
	return e
}

// Poller fetches the current batch of events from a source.
type Poller interface {
	Name() string
	Fetch(ctx context.Context) ([]*models.CorrelationEvent, error)
}

// Stream yields events one at a time. ack must be called once the event is
// stored; it is nil for sources without acknowledgement.
type Stream interface {
	Name() string
	Next(ctx context.Context) (e *models.CorrelationEvent, ack func(context.Context) error, err error)
	Close() error
}

// HTTPSource polls the correlation engine's active-events endpoint.
type HTTPSource struct {
	url    string
	client *http.Client
}

func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPSource{url: url, client: client}
}

func (s *HTTPSource) Name() string { return "http" }

// Fetch accepts either {"events": [...]} or a bare array.
func (s *HTTPSource) Fetch(ctx context.Context) ([]*models.CorrelationEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error while doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("error decoding resp.Body: %w", err)
	}

	var payloads []eventPayload
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(raw, &payloads)
	} else {
		var wrapped eventsResponse
		err = json.Unmarshal(raw, &wrapped)
		payloads = wrapped.Events
	}
	if err != nil {
		return nil, fmt.Errorf("error decoding events: %w", err)
	}

	events := make([]*models.CorrelationEvent, 0, len(payloads))
	for _, p := range payloads {
		events = append(events, p.toModel())
	}
	return events, nil
}

// KafkaSource consumes correlation events from a topic. Offsets are
// committed only after the event is stored.
type KafkaSource struct {
	reader *kafka.Reader
}

func NewKafkaSource(brokers []string, topic, groupID string) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		SessionTimeout: 10 * time.Second,
		StartOffset:    kafka.FirstOffset,
		MaxBytes:       10e6,
	})
	slog.Info("kafka consumer created", "brokers", brokers, "topic", topic, "group_id", groupID)
	return &KafkaSource{reader: reader}
}

func (s *KafkaSource) Name() string { return "kafka" }

func (s *KafkaSource) Next(ctx context.Context) (*models.CorrelationEvent, func(context.Context) error, error) {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			return nil, nil, err
		}

		var p eventPayload
		if err := json.Unmarshal(msg.Value, &p); err != nil {
			// A poison message would block the partition forever; skip it.
			slog.Warn("skipping undecodable correlation message",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
			if err := s.reader.CommitMessages(ctx, msg); err != nil {
				return nil, nil, fmt.Errorf("error committing skipped message: %w", err)
			}
			continue
		}

		ack := func(ctx context.Context) error {
			return s.reader.CommitMessages(ctx, msg)
		}
		return p.toModel(), ack, nil
	}
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

// isClosed reports whether err means the stream ended for good.
func isClosed(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF)
}
