package ingress

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"PBoard/tools/ids"

	"github.com/Shopify/sarama"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Sink publishes one encoded envelope. key groups related messages.
type Sink interface {
	Send(ctx context.Context, key, id string, data []byte) error
}

type outbound struct {
	key  string
	id   string
	data []byte
}

// Relayer re-publishes local mutations so other nodes can deliver them to
// their own connections. Sends happen on Run's goroutine; a full queue drops.
type Relayer struct {
	origin  string
	sinks   []Sink
	queue   chan outbound
	timeout time.Duration
	log     *zap.Logger
}

func NewRelayer(origin string, queueSize int, log *zap.Logger, sinks ...Sink) *Relayer {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Relayer{
		origin:  origin,
		sinks:   sinks,
		queue:   make(chan outbound, queueSize),
		timeout: 5 * time.Second,
		log:     log,
	}
}

func (r *Relayer) Relay(kind string, projectID int64, record any) {
	id := ids.GenerateString()
	data, err := json.Marshal(struct {
		ID     string `json:"id"`
		Origin string `json:"origin"`
		Kind   string `json:"kind"`
		Record any    `json:"record"`
	}{id, r.origin, kind, record})
	if err != nil {
		r.log.Warn("relay encode", zap.String("kind", kind), zap.Error(err))
		return
	}

	select {
	case r.queue <- outbound{key: strconv.FormatInt(projectID, 10), id: id, data: data}:
	default:
		r.log.Warn("relay queue full, dropping", zap.String("kind", kind), zap.Int64("project_id", projectID))
	}
}

// Run sends queued envelopes until ctx is done.
func (r *Relayer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-r.queue:
			r.send(ctx, out)
		}
	}
}

func (r *Relayer) send(ctx context.Context, out outbound) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	for _, s := range r.sinks {
		if err := s.Send(ctx, out.key, out.id, out.data); err != nil {
			r.log.Warn("relay send", zap.String("id", out.id), zap.Error(err))
		}
	}
}

// Send publishes on the source's own subject, so peers subscribed to it
// receive the envelope.
func (s *NatsSource) Send(_ context.Context, _ string, id string, data []byte) error {
	msg := nats.NewMsg(s.cfg.Subject)
	msg.Data = data
	if id != "" {
		msg.Header.Set(nats.MsgIdHdr, id)
	}
	return errors.Wrap(s.nc.PublishMsg(msg), "nats publish")
}

// KafkaSink writes envelopes to one topic, keyed so a project's mutations
// keep their order.
type KafkaSink struct {
	topic string
	prod  sarama.SyncProducer
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Net.DialTimeout = 10 * time.Second

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "kafka producer")
	}
	return &KafkaSink{topic: topic, prod: p}, nil
}

func (k *KafkaSink) Send(_ context.Context, key, id string, data []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}
	if id != "" {
		msg.Headers = []sarama.RecordHeader{{Key: []byte("X-Msg-Id"), Value: []byte(id)}}
	}
	_, _, err := k.prod.SendMessage(msg)
	return errors.Wrap(err, "kafka send")
}

func (k *KafkaSink) Close() error {
	return k.prod.Close()
}
