package kafka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/hugolhafner/go-transformer/logger"
)

var _ Producer = (*SaramaProducer)(nil)

type SaramaProducerConfig struct {
	BootstrapServers []string
	ClientID         string
	QueueSize        int
	Linger           time.Duration
	Idempotent       bool

	Logger logger.Logger
}

func defaultSaramaConfig() SaramaProducerConfig {
	return SaramaProducerConfig{
		BootstrapServers: []string{"localhost:9092"},
		QueueSize:        1024,
		Linger:           5 * time.Millisecond,
		Idempotent:       true,
		Logger:           logger.NewNoopLogger(),
	}
}

type SaramaOption func(*SaramaProducerConfig)

func WithSaramaBootstrapServers(servers []string) SaramaOption {
	return func(cfg *SaramaProducerConfig) {
		cfg.BootstrapServers = servers
	}
}

func WithSaramaClientID(id string) SaramaOption {
	return func(cfg *SaramaProducerConfig) {
		cfg.ClientID = id
	}
}

// WithSaramaQueueSize sets the input channel capacity. A full channel is
// reported to callers as ErrQueueFull.
func WithSaramaQueueSize(n int) SaramaOption {
	return func(cfg *SaramaProducerConfig) {
		cfg.QueueSize = n
	}
}

func WithSaramaLogger(l logger.Logger) SaramaOption {
	return func(cfg *SaramaProducerConfig) {
		cfg.Logger = l.With("client", "sarama")
	}
}

// SaramaProducer is a Producer on top of sarama's AsyncProducer.
type SaramaProducer struct {
	producer sarama.AsyncProducer

	mu     sync.RWMutex
	closed bool

	inflight atomic.Int64
	errMu    sync.Mutex
	err      error
	done     chan struct{}

	logger logger.Logger
}

func NewSaramaProducer(opts ...SaramaOption) (*SaramaProducer, error) {
	cfg := defaultSaramaConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.ChannelBufferSize = cfg.QueueSize
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Flush.Frequency = cfg.Linger
	sc.Producer.RequiredAcks = sarama.WaitForAll
	if cfg.Idempotent {
		sc.Version = sarama.V2_1_0_0
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
	}

	p, err := sarama.NewAsyncProducer(cfg.BootstrapServers, sc)
	if err != nil {
		return nil, fmt.Errorf("create sarama producer: %w", err)
	}

	return NewSaramaProducerFrom(p, cfg.Logger), nil
}

// NewSaramaProducerFrom wraps an existing AsyncProducer. The producer must be
// configured to return both successes and errors.
func NewSaramaProducerFrom(p sarama.AsyncProducer, l logger.Logger) *SaramaProducer {
	sp := &SaramaProducer{
		producer: p,
		done:     make(chan struct{}),
		logger:   l,
	}
	go sp.drain()
	return sp
}

func (s *SaramaProducer) drain() {
	defer close(s.done)

	successes, errs := s.producer.Successes(), s.producer.Errors()
	for successes != nil || errs != nil {
		select {
		case _, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			s.inflight.Add(-1)
		case pe, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.inflight.Add(-1)
			s.recordError(pe)
		}
	}
}

func (s *SaramaProducer) recordError(pe *sarama.ProducerError) {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	if s.err == nil {
		s.err = fmt.Errorf("deliver record to %s: %w", pe.Msg.Topic, pe.Err)
	}
	s.logger.Error("Record delivery failed", "topic", pe.Msg.Topic, "error", pe.Err)
}

func (s *SaramaProducer) deliveryError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *SaramaProducer) Send(ctx context.Context, topic string, key, value []byte, headers []Header) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClientClosed
	}
	if err := s.deliveryError(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.ByteEncoder(key),
		Value:   sarama.ByteEncoder(value),
		Headers: convertToSaramaHeaders(headers),
	}

	s.inflight.Add(1)
	select {
	case s.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		s.inflight.Add(-1)
		return ctx.Err()
	default:
		s.inflight.Add(-1)
		return ErrQueueFull
	}
}

// Flush waits until every accepted record has been acknowledged.
func (s *SaramaProducer) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for s.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return s.deliveryError()
		case <-ticker.C:
		}
	}

	return s.deliveryError()
}

func (s *SaramaProducer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.producer.AsyncClose()
	<-s.done
}

func convertToSaramaHeaders(headers []Header) []sarama.RecordHeader {
	out := make([]sarama.RecordHeader, len(headers))
	for i, h := range headers {
		out[i] = sarama.RecordHeader{Key: []byte(h.Key), Value: h.Value}
	}
	return out
}
