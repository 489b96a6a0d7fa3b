package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hugolhafner/go-transformer/errorhandler"
	"github.com/hugolhafner/go-transformer/kafka"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Headers added to dead lettered records.
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderErrorTimestamp    = "x-error-timestamp"
	HeaderErrorAttempt      = "x-error-attempt"
	HeaderErrorPhase        = "x-error-phase"
	HeaderErrorMessage      = "x-error-message"
)

func deadLetterHeaders(rec kafka.ConsumerRecord, ec errorhandler.ErrorContext) []kafka.Header {
	headers := kafka.CloneHeaders(rec.Headers, 7)
	headers = append(
		headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(rec.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.FormatInt(int64(rec.Partition), 10))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(rec.Offset, 10))},
		kafka.Header{Key: HeaderErrorTimestamp, Value: []byte(time.Now().Format(time.RFC3339))},
		kafka.Header{Key: HeaderErrorAttempt, Value: []byte(strconv.Itoa(ec.Attempt))},
		kafka.Header{Key: HeaderErrorPhase, Value: []byte(ec.Phase.String())},
	)

	if ec.Error != nil {
		headers = append(headers, kafka.Header{Key: HeaderErrorMessage, Value: []byte(ec.Error.Error())})
	}

	return headers
}

// deadLetter publishes the raw input record to topic. A full producer queue
// is retried like a regular send. Any other failure is returned.
func (s *sink) deadLetter(ctx context.Context, rec kafka.ConsumerRecord, ec errorhandler.ErrorContext, topic string) error {
	key := kafka.CloneBytes(rec.Key)
	value := kafka.CloneBytes(rec.Value)
	headers := deadLetterHeaders(rec, ec)

	var full uint
	for {
		err := s.producer.Send(ctx, topic, key, value, headers)
		if err == nil {
			break
		}

		if !errors.Is(err, kafka.ErrQueueFull) {
			return fmt.Errorf("send to dead letter topic %s: %w", topic, err)
		}

		s.stats.backpressure.Add(1)
		if err := wait(ctx, s.backpressure.Next(full)); err != nil {
			return fmt.Errorf("send to dead letter topic %s: %w", topic, err)
		}
		full++
	}

	s.stats.deadLettered.Add(1)
	s.telemetry.MessagesProduced.Add(
		ctx, 1, metric.WithAttributes(semconv.MessagingDestinationName(topic)),
	)
	s.logger.Warn(
		"Sent record to dead letter topic",
		"dlq", topic,
		"topic", rec.Topic,
		"partition", rec.Partition,
		"offset", rec.Offset,
		"phase", ec.Phase.String(),
	)
	return nil
}

// skipOrDeadLetter applies a Continue or SendToDLQ decision. It reports
// whether the record may be skipped.
func (s *sink) skipOrDeadLetter(
	ctx context.Context, action errorhandler.Action, rec kafka.ConsumerRecord, ec errorhandler.ErrorContext,
) (bool, error) {
	switch a := action.(type) {
	case errorhandler.ActionSendToDLQ:
		if err := s.deadLetter(ctx, rec, ec, a.Topic()); err != nil {
			return false, err
		}
		return true, nil
	default:
		return action.Type() == errorhandler.ActionTypeContinue, nil
	}
}
