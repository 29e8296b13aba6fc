package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []kafka.Message
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.cancel != nil {
		r.cancel()
		return kafka.Message{}, context.Canceled
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_Consume_CommitsAfterHandler(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Key: []byte("k1"), Value: []byte("v1"), Offset: 4}, {Key: []byte("k2"), Value: []byte("v2"), Offset: 5}},
		err:  errors.New("broker gone"),
	}
	c := newConsumerWithReader(fr)

	var keys []string
	err := c.Consume(context.Background(), func(ctx context.Context, k, v []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	require.Error(t, err)
	require.Equal(t, []string{"k1", "k2"}, keys)
	require.Len(t, fr.committed, 2)
	require.Equal(t, ConsumerStats{Handled: 2, Committed: 2, LastOffset: 5}, c.Stats())
}

func TestConsumer_Consume_HandlerErrorStopsWithoutCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}}}
	c := newConsumerWithReader(fr)

	want := errors.New("handler failed")
	err := c.Consume(context.Background(), func(ctx context.Context, k, v []byte) error { return want })
	require.ErrorIs(t, err, want)
	require.ErrorContains(t, err, "offset 0")
	require.Empty(t, fr.committed)
	require.Equal(t, int64(-1), c.Stats().LastOffset)
}

func TestConsumer_Consume_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fr := &fakeReader{cancel: cancel}
	c := newConsumerWithReader(fr)

	require.NoError(t, c.Consume(ctx, func(ctx context.Context, k, v []byte) error { return nil }))
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "t", "g")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}
