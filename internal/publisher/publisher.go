// Package publisher forwards harnessed-job summary records to the site's
// Kafka archiver topic.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/lg"
	"github.com/lsst-camera-dh/jh-ccs-utils/internal/schema"
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Publisher writes one message per summary record. Messages are keyed by
// a fresh UUID so re-published summaries never collapse onto earlier
// ones under log compaction.
type Publisher struct {
	writer messageWriter
	logger lg.Logger
}

// New builds a publisher for the given brokers and topic.
func New(brokers []string, topic string, logger lg.Logger) *Publisher {
	if logger == nil {
		logger = lg.Discard
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			Async:                  false,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

// envelope is the message payload: the record plus the identifiers a
// consumer needs to file it.
type envelope struct {
	MessageID string        `json:"message_id"`
	JobName   string        `json:"job_name,omitempty"`
	RunNumber string        `json:"run_number,omitempty"`
	Posted    time.Time     `json:"posted"`
	Record    schema.Record `json:"record"`
}

// PublishRecords sends one message per record.
func (p *Publisher) PublishRecords(ctx context.Context, jobName, runNumber string, records []schema.Record) error {
	messages := make([]kafka.Message, 0, len(records))
	now := time.Now()
	for _, record := range records {
		id := uuid.New()
		payload, err := json.Marshal(envelope{
			MessageID: id.String(),
			JobName:   jobName,
			RunNumber: runNumber,
			Posted:    now,
			Record:    record,
		})
		if err != nil {
			return fmt.Errorf("publisher: marshal %s record: %w", record.Schema, err)
		}
		messages = append(messages, kafka.Message{
			Key:   id[:],
			Value: payload,
			Time:  now,
		})
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("publisher: write messages: %w", err)
	}
	p.logger.Info("published summary records",
		lg.String("job", jobName),
		lg.String("run", runNumber),
		lg.Int("records", len(records)))
	return nil
}

// PublishSummaryFile reads a persisted summary.lims file and publishes
// its records.
func (p *Publisher) PublishSummaryFile(ctx context.Context, jobName, runNumber, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("publisher: read summary: %w", err)
	}
	var records []schema.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("publisher: parse summary: %w", err)
	}
	return p.PublishRecords(ctx, jobName, runNumber, records)
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
