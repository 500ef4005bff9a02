package ingress

import (
	"context"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

// KafkaSource consumes mutation topics as one consumer group.
type KafkaSource struct {
	cfg   KafkaConfig
	group sarama.ConsumerGroup
	log   *zap.Logger
	done  chan struct{}
	run   bool
}

func NewKafkaSource(cfg KafkaConfig, log *zap.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 || len(cfg.Topics) == 0 {
		return nil, errors.New("kafka brokers and topics are required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	config := sarama.NewConfig()
	config.Version = sarama.V2_1_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, errors.Wrap(err, "kafka consumer group")
	}
	return &KafkaSource{cfg: cfg, group: group, log: log, done: make(chan struct{})}, nil
}

// Start consumes in the background until ctx is done.
func (s *KafkaSource) Start(ctx context.Context, h Handler) error {
	s.run = true
	go func() {
		for err := range s.group.Errors() {
			s.log.Warn("kafka consumer group error", zap.Error(err))
		}
	}()

	go func() {
		defer close(s.done)
		handler := &groupHandler{ctx: ctx, h: h, log: s.log}
		for {
			if err := s.group.Consume(ctx, s.cfg.Topics, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				s.log.Warn("kafka consume", zap.Error(err))
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	s.log.Info("kafka ingress started", zap.Strings("topics", s.cfg.Topics), zap.String("group", s.cfg.GroupID))
	return nil
}

func (s *KafkaSource) Close() error {
	err := s.group.Close()
	if !s.run {
		return err
	}
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
	}
	return err
}

type groupHandler struct {
	ctx context.Context
	h   Handler
	log *zap.Logger
}

func (g *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	g.log.Debug("kafka consumer group setup")
	return nil
}

func (g *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	g.log.Debug("kafka consumer group cleanup")
	return nil
}

func (g *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		g.handle(msg)
		session.MarkMessage(msg, "")
	}
	return nil
}

func (g *groupHandler) handle(msg *sarama.ConsumerMessage) {
	g.log.Debug("kafka message",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset))

	if err := g.h(g.ctx, Message{
		Source:  "kafka",
		Subject: msg.Topic,
		Key:     msg.Key,
		Data:    msg.Value,
		Header:  kafkaHeaders(msg.Headers),
	}); err != nil {
		g.log.Warn("kafka handler", zap.String("topic", msg.Topic), zap.Error(err))
	}
}

func kafkaHeaders(hs []*sarama.RecordHeader) map[string]string {
	if len(hs) == 0 {
		return nil
	}
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		if h != nil {
			out[string(h.Key)] = string(h.Value)
		}
	}
	return out
}
