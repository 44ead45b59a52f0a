package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// KafkaQueue publishes jobs to a topic and consumes them through a
// consumer group. Retries are re-published with a not-before time;
// dead letters go to "<topic>.dlq".
type KafkaQueue struct {
	writer    *kafka.Writer
	dlqWriter *kafka.Writer
	reader    *kafka.Reader
	topic     string
}

// NewKafkaQueue creates the writers and the group reader.
func NewKafkaQueue(brokers []string, topic, group string) *KafkaQueue {
	q := &KafkaQueue{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		dlqWriter: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic + ".dlq",
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  group,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
	}
	log.Info().Strs("brokers", brokers).Str("topic", topic).Str("group", group).Msg("Kafka job queue configured")
	return q
}

func (q *KafkaQueue) publish(ctx context.Context, w *kafka.Writer, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.ID),
		Value: raw,
		Headers: []kafka.Header{
			{Key: "job-type", Value: []byte(job.Type)},
		},
	})
}

func (q *KafkaQueue) Enqueue(ctx context.Context, job *Job) error {
	return q.publish(ctx, q.writer, job)
}

// Receive waits out a retried job's not-before time before returning it,
// which holds back its partition for at most the retry delay.
func (q *KafkaQueue) Receive(ctx context.Context) (*Job, error) {
	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("kafka fetch: %w", err)
		}
		var job Job
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("Dropping malformed job")
			q.dlqWriter.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: msg.Value})
			q.reader.CommitMessages(ctx, msg)
			continue
		}
		if wait := time.Until(job.NotBefore); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		job.receipt = msg
		return &job, nil
	}
}

func messageOf(job *Job) (kafka.Message, error) {
	msg, ok := job.receipt.(kafka.Message)
	if !ok {
		return kafka.Message{}, fmt.Errorf("queue: job %s was not received from kafka", job.ID)
	}
	return msg, nil
}

func (q *KafkaQueue) Ack(ctx context.Context, job *Job) error {
	msg, err := messageOf(job)
	if err != nil {
		return err
	}
	return q.reader.CommitMessages(ctx, msg)
}

func (q *KafkaQueue) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	msg, err := messageOf(job)
	if err != nil {
		return err
	}
	job.NotBefore = time.Now().Add(delay)
	if err := q.publish(ctx, q.writer, job); err != nil {
		return err
	}
	return q.reader.CommitMessages(ctx, msg)
}

func (q *KafkaQueue) DeadLetter(ctx context.Context, job *Job, reason string) error {
	msg, err := messageOf(job)
	if err != nil {
		return err
	}
	job.LastError = reason
	if err := q.publish(ctx, q.dlqWriter, job); err != nil {
		return err
	}
	return q.reader.CommitMessages(ctx, msg)
}

func (q *KafkaQueue) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{q.reader, q.writer, q.dlqWriter} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
