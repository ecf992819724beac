package event

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLogAndReplay(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLog(&buf, EventLogData{Time: 1, ID: "m-1", Service: "api", Action: "conversation_message", Data: `{"userId":"u1"}`}))
	require.NoError(t, WriteLog(&buf, EventLogData{Time: 2, Service: "backoffice", Action: "ignored", Data: "{}"}))
	buf.WriteString("not json\n")
	require.NoError(t, WriteLog(&buf, EventLogData{Time: 3, Service: "api", Action: "other", Data: "{}"}))

	assert.Equal(t, 4, strings.Count(buf.String(), "\n"))

	api := make(chan EventChannelData, 8)
	n, err := Replay(context.Background(), &buf, map[string]chan<- EventChannelData{"api": api})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	close(api)

	var got []EventChannelData
	for ev := range api {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, EventChannelData{ID: "m-1", Queue: "api", Action: "conversation_message", Data: []byte(`{"userId":"u1"}`)}, got[0])
	assert.Equal(t, "other", got[1].Action)
}

func TestDecodeDelivery(t *testing.T) {
	data, err := decodeDelivery("api", amqp.Delivery{
		MessageId: "m-7",
		Headers:   amqp.Table{RabbitMQActionHeader: "conversation_message"},
		Body:      []byte("{}"),
	})
	require.NoError(t, err)
	assert.Equal(t, "m-7", data.ID)
	assert.Equal(t, "api", data.Queue)
	assert.Equal(t, "conversation_message", data.Action)

	_, err = decodeDelivery("api", amqp.Delivery{Body: []byte("{}")})
	assert.ErrorIs(t, err, ErrNoActionHeader)

	_, err = decodeDelivery("api", amqp.Delivery{Headers: amqp.Table{RabbitMQActionHeader: 42}})
	assert.ErrorIs(t, err, ErrNoActionHeader)
}

func TestReplayStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		require.NoError(t, WriteLog(&buf, EventLogData{Service: "api", Action: "conversation_message", Data: "{}"}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	api := make(chan EventChannelData)
	done := make(chan struct{})
	var n int
	var err error
	go func() {
		n, err = Replay(ctx, &buf, map[string]chan<- EventChannelData{"api": api})
		close(done)
	}()

	<-api
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Replay blocked after cancel")
	}
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)
}
