package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct{ msgs []kafka.Message }

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, Brokers(" a:9092, ,b:9092 "))
	assert.Nil(t, Brokers(""))
}

func TestWriteJSON(t *testing.T) {
	w := &captureWriter{}
	require.NoError(t, WriteJSON(context.Background(), w, "sb-1", map[string]string{"batchId": "b-1"}))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "sb-1", string(w.msgs[0].Key))
	var got map[string]string
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "b-1", got["batchId"])
	assert.False(t, w.msgs[0].Time.IsZero())
}

func TestWriteJSONRejectsUnmarshalable(t *testing.T) {
	err := WriteJSON(context.Background(), &captureWriter{}, "k", make(chan int))
	assert.Error(t, err)
}
