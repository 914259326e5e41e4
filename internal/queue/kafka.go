package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"go.uber.org/zap"

	"github.com/safar/go-order-engine/internal/config"
)

const jobTypeHeader = "job_type"

func baseOpts(cfg config.KafkaConfig) []kgo.Opt {
	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, kgo.SASL(plain.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsMechanism()))
	}
	return opts
}

// KafkaProducer publishes jobs keyed by job id.
type KafkaProducer struct {
	client *kgo.Client
	now    func() time.Time
}

func NewKafkaProducer(cfg config.KafkaConfig) (*KafkaProducer, error) {
	opts := append(baseOpts(cfg),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordRetries(5),
	)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &KafkaProducer{client: client, now: time.Now}, nil
}

// Enqueue blocks until the broker acknowledged the record, so a returned id
// always refers to a durable job.
func (p *KafkaProducer) Enqueue(ctx context.Context, topic string, payload any) (string, error) {
	job, err := NewJob(topic, payload, p.now())
	if err != nil {
		return "", err
	}
	value, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	record := &kgo.Record{
		Topic:     topic,
		Key:       []byte(job.ID),
		Value:     value,
		Timestamp: job.EnqueuedAt,
		Headers: []kgo.RecordHeader{
			{Key: jobTypeHeader, Value: []byte(topic)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return "", fmt.Errorf("produce job %s: %w", job.ID, err)
	}
	return job.ID, nil
}

func (p *KafkaProducer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *KafkaProducer) Close() {
	p.client.Close()
}

// KafkaConsumer feeds fetched records to a Pool. Offsets are committed only
// after every job of a fetch has settled, so an interrupted batch is
// delivered again.
type KafkaConsumer struct {
	client     *kgo.Client
	deadLetter DeadLetter
	logger     *zap.Logger
}

func NewKafkaConsumer(cfg config.KafkaConfig, deadLetter DeadLetter, logger *zap.Logger, topics ...string) (*KafkaConsumer, error) {
	opts := append(baseOpts(cfg),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.SessionTimeout(30*time.Second),
		kgo.RebalanceTimeout(30*time.Second),
	)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return &KafkaConsumer{client: client, deadLetter: deadLetter, logger: logger}, nil
}

func (c *KafkaConsumer) Run(ctx context.Context, pool *Pool) error {
	c.logger.Info("consumer started")

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err),
			)
		})

		var (
			records []*kgo.Record
			jobs    []Job
			lost    []error
		)
		fetches.EachRecord(func(record *kgo.Record) {
			records = append(records, record)

			job, err := DecodeJob(record.Value)
			if err != nil {
				if err := c.malformed(ctx, record, err); err != nil {
					lost = append(lost, err)
				}
				return
			}
			jobs = append(jobs, job)
		})
		if len(records) == 0 {
			continue
		}

		err := errors.Join(append(lost, pool.Process(ctx, jobs))...)
		if err != nil {
			c.logger.Warn("batch left unsettled, not committing", zap.Int("jobs", len(jobs)), zap.Error(err))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The client already moved past these records; only a restart
			// from the committed offset redelivers them.
			return fmt.Errorf("process batch: %w", err)
		}

		if err := c.client.CommitRecords(ctx, records...); err != nil {
			c.logger.Error("commit failed", zap.Error(err))
		}
	}
}

// malformed dead-letters a record that cannot be decoded into a job. The
// returned error means the record was neither processed nor recorded.
func (c *KafkaConsumer) malformed(ctx context.Context, record *kgo.Record, cause error) error {
	job := Job{
		ID:      fmt.Sprintf("%s/%d/%d", record.Topic, record.Partition, record.Offset),
		Topic:   record.Topic,
		Payload: record.Value,
	}
	c.logger.Error("malformed job record", zap.String("job_id", job.ID), zap.Error(cause))
	if c.deadLetter == nil {
		return nil
	}
	if err := c.deadLetter.Record(ctx, job, 0, ReasonMalformed, cause); err != nil {
		c.logger.Error("failed to record dead letter", zap.String("job_id", job.ID), zap.Error(err))
		return fmt.Errorf("dead-letter %s: %w", job.ID, err)
	}
	return nil
}

func (c *KafkaConsumer) Close() {
	c.client.Close()
}
