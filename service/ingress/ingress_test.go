package ingress

import (
	"context"
	"sync"
	"testing"
	"time"

	"PBoard/tools/errs"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type notifyCall struct {
	kind   string
	record map[string]any
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (n *recordingNotifier) Notify(kind string, record map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{kind, record})
	return n.err
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"kind":"task:created","record":{"id":3,"project_id":7}}`))
	require.NoError(t, err)
	assert.Equal(t, "task:created", env.Kind)
	assert.Equal(t, float64(7), env.Record["project_id"])

	for name, raw := range map[string]string{
		"not json":  `{`,
		"no kind":   `{"record":{}}`,
		"no record": `{"kind":"task:created"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(raw))
			assert.ErrorIs(t, err, errs.ErrArgs)
		})
	}
}

func TestDispatchDropsBadMessages(t *testing.T) {
	n := &recordingNotifier{}
	h := Dispatch(n, "node-1", nil)
	ctx := context.Background()

	assert.NoError(t, h(ctx, Message{Data: []byte(`garbage`)}))
	assert.Empty(t, n.calls)

	assert.NoError(t, h(ctx, Message{Data: []byte(`{"kind":"message:created","record":{"id":1}}`)}))
	require.Len(t, n.calls, 1)
	assert.Equal(t, "message:created", n.calls[0].kind)

	assert.NoError(t, h(ctx, Message{Data: []byte(`{"origin":"node-1","kind":"message:created","record":{"id":2}}`)}))
	assert.Len(t, n.calls, 1, "own relays are skipped")
	assert.NoError(t, h(ctx, Message{Data: []byte(`{"origin":"node-2","kind":"message:created","record":{"id":3}}`)}))
	assert.Len(t, n.calls, 2)

	n.err = errs.ErrUnknownMessage.WrapMsg("nope")
	assert.NoError(t, h(ctx, Message{Data: []byte(`{"kind":"nope","record":{}}`)}), "notifier errors are not redelivered")
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, msg Message) error {
				order = append(order, name)
				return next(ctx, msg)
			}
		}
	}
	h := Chain(func(context.Context, Message) error {
		order = append(order, "handler")
		return nil
	}, mw("a"), mw("b"))

	require.NoError(t, h(context.Background(), Message{}))
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestIdempotentSkipsRepeats(t *testing.T) {
	store := NewMemIdem().(*memIdem)
	base := time.Now()
	store.now = func() time.Time { return base }

	n := 0
	h := Chain(func(context.Context, Message) error { n++; return nil }, Idempotent(store, time.Minute))
	ctx := context.Background()

	withID := Message{Subject: "s", Data: []byte("a"), Header: map[string]string{"Nats-Msg-Id": "m1"}}
	require.NoError(t, h(ctx, withID))
	require.NoError(t, h(ctx, withID))
	require.NoError(t, h(ctx, Message{Subject: "s", Data: []byte("b")}))
	assert.Equal(t, 2, n)

	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	require.NoError(t, h(ctx, withID))
	assert.Equal(t, 3, n, "expired ids are accepted again")
}

func TestKafkaHandlerForwardsMessages(t *testing.T) {
	var got []Message
	g := &groupHandler{
		ctx: context.Background(),
		h: func(_ context.Context, m Message) error {
			got = append(got, m)
			return nil
		},
		log: zap.NewNop(),
	}
	g.handle(&sarama.ConsumerMessage{
		Topic:   "board-mutations",
		Key:     []byte("7"),
		Value:   []byte(`{"kind":"task:created","record":{}}`),
		Headers: []*sarama.RecordHeader{{Key: []byte("X-Msg-Id"), Value: []byte("k1")}},
	})

	require.Len(t, got, 1)
	assert.Equal(t, "kafka", got[0].Source)
	assert.Equal(t, "board-mutations", got[0].Subject)
	assert.Equal(t, "k1", got[0].Header["X-Msg-Id"])
	assert.Equal(t, "k1", msgID(got[0]))
}

func TestSourcesValidateConfig(t *testing.T) {
	_, err := NewNatsSource(NatsConfig{Subject: "x"}, nil)
	assert.Error(t, err)
	_, err = NewNatsSource(NatsConfig{Servers: []string{"nats://127.0.0.1:4222"}}, nil)
	assert.Error(t, err)
	_, err = NewKafkaSource(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)
}

type sinkCall struct {
	key, id string
	data    []byte
}

type chanSink chan sinkCall

func (s chanSink) Send(_ context.Context, key, id string, data []byte) error {
	s <- sinkCall{key, id, data}
	return nil
}

func TestRelayerRoundTripsThroughDispatch(t *testing.T) {
	sink := make(chanSink, 1)
	r := NewRelayer("node-a", 4, nil, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Relay("task:created", 7, map[string]any{"id": 1, "project_id": 7})

	var call sinkCall
	select {
	case call = <-sink:
	case <-time.After(2 * time.Second):
		t.Fatal("relay never sent")
	}
	assert.Equal(t, "7", call.key)
	assert.NotEmpty(t, call.id)

	env, err := DecodeEnvelope(call.data)
	require.NoError(t, err)
	assert.Equal(t, "node-a", env.Origin)
	assert.Equal(t, call.id, env.ID)

	n := &recordingNotifier{}
	require.NoError(t, Dispatch(n, "node-a", nil)(ctx, Message{Data: call.data}))
	assert.Empty(t, n.calls)
	require.NoError(t, Dispatch(n, "node-b", nil)(ctx, Message{Data: call.data}))
	require.Len(t, n.calls, 1)
	assert.Equal(t, "task:created", n.calls[0].kind)
}

func TestRelayerDropsWhenFull(t *testing.T) {
	r := NewRelayer("node-a", 1, nil)
	r.Relay("task:created", 7, map[string]any{})
	r.Relay("task:created", 7, map[string]any{})
	assert.Len(t, r.queue, 1)
}

func TestNodesSharingIdemStoreEachDeliver(t *testing.T) {
	shared := NewMemIdem()
	a, b := &recordingNotifier{}, &recordingNotifier{}
	nodeA := NodeHandler(a, "node-a", shared, time.Minute, nil)
	nodeB := NodeHandler(b, "node-b", shared, time.Minute, nil)
	ctx := context.Background()

	relayed := Message{
		Subject: "board.mutations",
		Data:    []byte(`{"id":"r1","origin":"node-a","kind":"task:created","record":{"id":1,"project_id":7}}`),
		Header:  map[string]string{"Nats-Msg-Id": "r1"},
	}
	require.NoError(t, nodeA(ctx, relayed))
	require.NoError(t, nodeB(ctx, relayed))
	assert.Empty(t, a.calls, "own relay is skipped")
	require.Len(t, b.calls, 1)

	external := Message{
		Subject: "board.mutations",
		Data:    []byte(`{"kind":"message:created","record":{"id":4,"project_id":7}}`),
	}
	require.NoError(t, nodeA(ctx, external))
	require.NoError(t, nodeB(ctx, external))
	assert.Len(t, a.calls, 1)
	assert.Len(t, b.calls, 2)

	require.NoError(t, nodeB(ctx, external))
	assert.Len(t, b.calls, 2, "redelivery to the same node is deduplicated")
}

func TestSkipOriginRunsBeforeDedup(t *testing.T) {
	store := NewMemIdem()
	n := 0
	h := Chain(func(context.Context, Message) error { n++; return nil },
		SkipOrigin("node-a"), Idempotent(store, time.Minute))
	msg := Message{Data: []byte(`{"origin":"node-a"}`), Header: map[string]string{"X-Msg-Id": "m"}}

	require.NoError(t, h(context.Background(), msg))
	assert.Zero(t, n)
	seen, err := store.SeenOnce(context.Background(), "m", time.Minute)
	require.NoError(t, err)
	assert.False(t, seen, "skipped messages never claim their id")
}
