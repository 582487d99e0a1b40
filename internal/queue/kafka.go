package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"teamshots/internal/domain"
	"teamshots/internal/infra"
)

// MessageReader is the subset of *kafka.Reader the source uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaReader builds a consumer-group reader with manual commits.
func NewKafkaReader(cfg KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// KafkaSource consumes jobs from a topic. Every message is mirrored into
// the generations table before it is claimed, so status reporting works the
// same as with PostgresSource. Offsets are committed per partition in fetch
// order: a message is released on Ack, or right away when it will never be
// processed, and the commit only advances past released messages.
//
// With orphan recovery enabled the source also claims queued generations
// that sat unclaimed for longer than orphanAfter, which covers runs requeued
// after their message was already consumed.
type KafkaSource struct {
	reader      MessageReader
	records     claimStore
	logger      infra.Logger
	orphanAfter time.Duration
	poll        time.Duration
	order       commitOrder
}

type claimStore interface {
	Insert(ctx context.Context, job Job) (bool, error)
	ClaimByID(ctx context.Context, id string) (*domain.Generation, error)
	ClaimOrphan(ctx context.Context, olderThan time.Duration) (*domain.Generation, error)
}

// NewKafkaSource builds a source over reader. orphanAfter <= 0 disables
// orphan recovery; poll bounds how long a fetch waits before the next
// orphan check.
func NewKafkaSource(reader MessageReader, records *Records, orphanAfter, poll time.Duration, logger *infra.Logger) *KafkaSource {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &KafkaSource{
		reader:      reader,
		records:     records,
		logger:      infra.OrNop(logger),
		orphanAfter: orphanAfter,
		poll:        poll,
	}
}

var errFetchIdle = errors.New("queue: no message within poll interval")

func (s *KafkaSource) Next(ctx context.Context) (*Delivery, error) {
	for {
		if s.orphanAfter > 0 {
			g, err := s.records.ClaimOrphan(ctx, s.orphanAfter)
			if err == nil {
				s.logger.Info().Str("generation_id", g.ID).Msg("queue: claimed orphaned generation")
				return NewDelivery(*g, nil), nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("claim orphaned generation: %w", err)
			}
		}

		msg, err := s.fetch(ctx)
		if errors.Is(err, errFetchIdle) {
			continue
		}
		if err != nil {
			return nil, err
		}
		log := s.logger.With().Int("partition", msg.Partition).Int64("offset", msg.Offset).Logger()
		slot := s.order.track(msg)

		job, err := DecodeJob(msg.Value)
		if err != nil {
			log.Warn().Err(err).Msg("queue: dropping malformed job")
			if err := s.release(ctx, slot); err != nil {
				return nil, err
			}
			continue
		}
		log = log.With().Str("generation_id", job.GenerationID).Logger()

		if _, err := s.records.Insert(ctx, job); err != nil {
			return nil, fmt.Errorf("record job %s: %w", job.GenerationID, err)
		}
		g, err := s.records.ClaimByID(ctx, job.GenerationID)
		if errors.Is(err, domain.ErrNotFound) {
			log.Info().Msg("queue: generation not claimable, skipping")
			if err := s.release(ctx, slot); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("claim generation %s: %w", job.GenerationID, err)
		}

		return NewDelivery(*g, func(ctx context.Context) error { return s.release(ctx, slot) }), nil
	}
}

func (s *KafkaSource) fetch(ctx context.Context) (kafka.Message, error) {
	fctx := ctx
	if s.orphanAfter > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, s.poll)
		defer cancel()
	}
	msg, err := s.reader.FetchMessage(fctx)
	if err != nil {
		if ctx.Err() != nil {
			return kafka.Message{}, ctx.Err()
		}
		if fctx.Err() != nil {
			return kafka.Message{}, errFetchIdle
		}
		return kafka.Message{}, fmt.Errorf("fetch job message: %w", err)
	}
	return msg, nil
}

func (s *KafkaSource) release(ctx context.Context, slot *pendingOffset) error {
	return s.order.release(slot, func(msg kafka.Message) error {
		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
		return nil
	})
}

func (s *KafkaSource) Close() error { return s.reader.Close() }

type pendingOffset struct {
	msg  kafka.Message
	done bool
}

// commitOrder tracks fetched messages per partition. Committing an offset
// moves the group past every lower offset, so only the longest released
// prefix is ever committed.
type commitOrder struct {
	mu      sync.Mutex
	pending map[int][]*pendingOffset
}

func (c *commitOrder) track(msg kafka.Message) *pendingOffset {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		c.pending = make(map[int][]*pendingOffset)
	}
	p := &pendingOffset{msg: msg}
	c.pending[msg.Partition] = append(c.pending[msg.Partition], p)
	return p
}

// release marks p done and commits the released prefix of its partition.
// The lock is held across the commit so commits never go backwards.
func (c *commitOrder) release(p *pendingOffset, commit func(kafka.Message) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.done = true
	queue := c.pending[p.msg.Partition]
	n := 0
	for n < len(queue) && queue[n].done {
		n++
	}
	if n == 0 {
		return nil
	}
	if err := commit(queue[n-1].msg); err != nil {
		return err
	}
	c.pending[p.msg.Partition] = queue[n:]
	return nil
}

// KafkaPublisher records the generation and then writes the job keyed by
// generation id so redeliveries land on the same partition.
type KafkaPublisher struct {
	writer  MessageWriter
	records *Records
}

func NewKafkaPublisher(writer MessageWriter, records *Records) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, records: records}
}

func (p *KafkaPublisher) Publish(ctx context.Context, job Job) (bool, error) {
	if err := job.Validate(); err != nil {
		return false, err
	}
	created, err := p.records.Insert(ctx, job)
	if err != nil {
		return false, err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("encode job: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(job.GenerationID), Value: body}); err != nil {
		return created, fmt.Errorf("publish job %s: %w", job.GenerationID, err)
	}
	return created, nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

var (
	_ Source        = (*KafkaSource)(nil)
	_ Publisher     = (*KafkaPublisher)(nil)
	_ MessageReader = (*kafka.Reader)(nil)
	_ MessageWriter = (*kafka.Writer)(nil)
)
