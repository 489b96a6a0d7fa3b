package kafka

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugolhafner/go-transformer/logger"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

var _ Client = (*KgoClient)(nil)

type KgoClientConfig struct {
	BootstrapServers   []string
	GroupID            string
	ClientID           string
	SessionTimeout     time.Duration
	HeartbeatInterval  time.Duration
	MaxPollRecords     int
	PollTimeout        time.Duration
	MaxBufferedRecords int
	ProducerLinger     time.Duration
	ResetToEarliest    bool

	Logger logger.Logger
}

func defaultConfig() KgoClientConfig {
	return KgoClientConfig{
		BootstrapServers:   []string{"localhost:9092"},
		GroupID:            "default-group",
		SessionTimeout:     45 * time.Second,
		HeartbeatInterval:  3 * time.Second,
		PollTimeout:        3 * time.Second,
		MaxPollRecords:     100,
		MaxBufferedRecords: 10000,
		ProducerLinger:     5 * time.Millisecond,
		Logger:             logger.NewNoopLogger(),
	}
}

type KgoOption func(*KgoClientConfig)

func WithBootstrapServers(servers []string) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.BootstrapServers = servers
	}
}

func WithGroupID(id string) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.GroupID = id
	}
}

func WithClientID(id string) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.ClientID = id
	}
}

func WithPollTimeout(d time.Duration) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.PollTimeout = d
	}
}

func WithMaxPollRecords(n int) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.MaxPollRecords = n
	}
}

// WithMaxBufferedRecords bounds the producer's local queue. Send returns
// ErrQueueFull once this many records are awaiting delivery.
func WithMaxBufferedRecords(n int) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.MaxBufferedRecords = n
	}
}

// WithResetToEarliest makes a group without committed offsets start from the
// beginning of each partition instead of the end.
func WithResetToEarliest() KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.ResetToEarliest = true
	}
}

func WithLogger(l logger.Logger) KgoOption {
	return func(cfg *KgoClientConfig) {
		cfg.Logger = l.With("client", "kgo")
	}
}

type KgoClient struct {
	client *kgo.Client
	config KgoClientConfig

	mu          sync.RWMutex
	subscribed  bool
	rebalanceCb RebalanceCallback
	topics      []string

	// produceMu makes the capacity check and buffering of a record atomic
	produceMu   sync.Mutex
	deliveryMu  sync.Mutex
	deliveryErr error
	closed      atomic.Bool

	logger logger.Logger
}

func NewKgoClient(opts ...KgoOption) (*KgoClient, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	kc := &KgoClient{config: cfg, logger: cfg.Logger}

	reset := kgo.NewOffset().AtEnd()
	if cfg.ResetToEarliest {
		reset = kgo.NewOffset().AtStart()
	}

	kgoOpts := []kgo.Opt{
		kgo.SeedBrokers(cfg.BootstrapServers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.OnPartitionsAssigned(kc.onAssigned),
		kgo.OnPartitionsRevoked(kc.onRevoked),
		kgo.OnPartitionsLost(kc.onRevoked),
		kgo.WithLogger(kgoLogger{l: kc.logger}),
		kgo.SessionTimeout(cfg.SessionTimeout),
		kgo.HeartbeatInterval(cfg.HeartbeatInterval),
		// marks are committed by the runner once the producer is flushed
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(reset),
		kgo.MaxBufferedRecords(cfg.MaxBufferedRecords),
		kgo.ProducerLinger(cfg.ProducerLinger),
	}
	if cfg.ClientID != "" {
		kgoOpts = append(kgoOpts, kgo.ClientID(cfg.ClientID))
	}

	client, err := kgo.NewClient(kgoOpts...)
	if err != nil {
		return nil, fmt.Errorf("create kgo client: %w", err)
	}

	kc.client = client

	return kc, nil
}

func (k *KgoClient) onAssigned(ctx context.Context, c *kgo.Client, assigned map[string][]int32) {
	k.mu.RLock()
	cb := k.rebalanceCb
	k.mu.RUnlock()

	if cb == nil {
		return
	}

	cb.OnAssigned(ctx, mapToTopicPartitions(assigned))
}

func (k *KgoClient) onRevoked(ctx context.Context, c *kgo.Client, revoked map[string][]int32) {
	k.mu.RLock()
	cb := k.rebalanceCb
	k.mu.RUnlock()

	if cb != nil {
		cb.OnRevoked(ctx, mapToTopicPartitions(revoked))
	}

	// The callback drains the revoked partitions, so their final marks are in
	// place and must reach the group before ownership moves.
	if err := c.CommitMarkedOffsets(ctx); err != nil {
		k.logger.Warn("Commit on revoke failed", "error", err)
	}
}

func (k *KgoClient) Subscribe(topics []string, rebalanceCb RebalanceCallback) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.subscribed {
		return fmt.Errorf("already subscribed")
	}

	k.rebalanceCb = rebalanceCb
	k.topics = topics
	k.client.AddConsumeTopics(topics...)
	k.subscribed = true

	return nil
}

// Poll returns the records of the next fetch. When some partitions failed it
// returns the records that were fetched together with a *ConsumeError for the
// first failure, so nothing that was handed over is lost.
func (k *KgoClient) Poll(ctx context.Context) ([]ConsumerRecord, error) {
	if k.closed.Load() {
		return nil, ErrClientClosed
	}

	pollCtx, cancel := context.WithTimeout(ctx, k.config.PollTimeout)
	defer cancel()

	fetches := k.client.PollRecords(pollCtx, k.config.MaxPollRecords)
	if fetches.IsClientClosed() {
		return nil, ErrClientClosed
	}

	records := convertRecords(fetches.Records())

	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			continue
		}

		return records, &ConsumeError{
			Kind:      classifyFetchError(fe.Err),
			Topic:     fe.Topic,
			Partition: fe.Partition,
			Err:       fe.Err,
		}
	}

	return records, nil
}

func classifyFetchError(err error) ErrorKind {
	switch {
	case errors.Is(err, kerr.TopicAuthorizationFailed),
		errors.Is(err, kerr.GroupAuthorizationFailed),
		errors.Is(err, kerr.ClusterAuthorizationFailed),
		errors.Is(err, kerr.SaslAuthenticationFailed),
		errors.Is(err, kerr.IllegalSaslState),
		errors.Is(err, kerr.UnsupportedSaslMechanism):
		return ErrorKindAuthorization
	case errors.Is(err, kerr.CorruptMessage):
		return ErrorKindDeserialization
	}

	var firstRead *kgo.ErrFirstReadEOF
	if errors.As(err, &firstRead) {
		return ErrorKindConnectivity
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorKindConnectivity
	}

	return ErrorKindUnknown
}

func (k *KgoClient) MarkOffset(tp TopicPartition, offset Offset) error {
	if k.closed.Load() {
		return ErrClientClosed
	}

	k.client.MarkCommitOffsets(
		map[string]map[int32]kgo.EpochOffset{
			tp.Topic: {
				tp.Partition: {Epoch: offset.LeaderEpoch, Offset: offset.Offset},
			},
		},
	)

	return nil
}

func (k *KgoClient) Commit(ctx context.Context) error {
	if k.closed.Load() {
		return ErrClientClosed
	}
	return k.client.CommitMarkedOffsets(ctx)
}

func (k *KgoClient) Send(ctx context.Context, topic string, key, value []byte, headers []Header) error {
	if k.closed.Load() {
		return ErrClientClosed
	}
	if err := k.deliveryError(); err != nil {
		return err
	}

	record := &kgo.Record{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: convertToKgoHeaders(headers),
	}

	k.produceMu.Lock()
	defer k.produceMu.Unlock()

	if k.client.BufferedProduceRecords() >= int64(k.config.MaxBufferedRecords) {
		return ErrQueueFull
	}

	// kgo aborts a buffered record once its context is done. Delivery is
	// bounded by Flush instead of by the caller.
	k.client.TryProduce(context.WithoutCancel(ctx), record, k.onDelivered)
	return nil
}

func (k *KgoClient) onDelivered(r *kgo.Record, err error) {
	if err == nil {
		return
	}

	k.deliveryMu.Lock()
	defer k.deliveryMu.Unlock()

	if errors.Is(err, kgo.ErrMaxBuffered) {
		err = fmt.Errorf("%w: %w", ErrQueueFull, err)
	}
	if k.deliveryErr == nil {
		k.deliveryErr = fmt.Errorf("deliver record to %s[%d]: %w", r.Topic, r.Partition, err)
	}

	k.logger.Error("Record delivery failed", "topic", r.Topic, "error", err)
}

func (k *KgoClient) deliveryError() error {
	k.deliveryMu.Lock()
	defer k.deliveryMu.Unlock()
	return k.deliveryErr
}

func (k *KgoClient) Flush(ctx context.Context) error {
	if err := k.client.Flush(ctx); err != nil {
		return err
	}
	return k.deliveryError()
}

func (k *KgoClient) Ping(ctx context.Context) error {
	if err := k.client.Ping(ctx); err != nil {
		return NewConsumeError(classifyFetchError(err), err)
	}
	return nil
}

func (k *KgoClient) Close() {
	if k.closed.Swap(true) {
		return
	}
	k.client.CloseAllowingRebalance()
}

func mapSlice[T, U any](in []T, f func(T) U) []U {
	out := make([]U, len(in))
	for i, v := range in {
		out[i] = f(v)
	}
	return out
}

func convertRecords(records []*kgo.Record) []ConsumerRecord {
	return mapSlice(
		records, func(r *kgo.Record) ConsumerRecord {
			return ConsumerRecord{
				Topic:       r.Topic,
				Partition:   r.Partition,
				Offset:      r.Offset,
				Key:         r.Key,
				Value:       r.Value,
				Headers:     mapSlice(r.Headers, func(h kgo.RecordHeader) Header { return Header(h) }),
				Timestamp:   r.Timestamp,
				LeaderEpoch: r.LeaderEpoch,
			}
		},
	)
}

func convertToKgoHeaders(headers []Header) []kgo.RecordHeader {
	return mapSlice(headers, func(h Header) kgo.RecordHeader { return kgo.RecordHeader(h) })
}

// mapToTopicPartitions flattens a kgo partition map, sorted by topic and
// partition.
func mapToTopicPartitions(m map[string][]int32) []TopicPartition {
	var tps []TopicPartition
	for topic, partitions := range m {
		for _, partition := range partitions {
			tps = append(tps, TopicPartition{Topic: topic, Partition: partition})
		}
	}

	slices.SortFunc(
		tps, func(a, b TopicPartition) int {
			return cmp.Or(cmp.Compare(a.Topic, b.Topic), cmp.Compare(a.Partition, b.Partition))
		},
	)
	return tps
}
