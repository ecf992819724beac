package event

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gig-messenger/config"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type EventChannelData struct {
	// ID is the AMQP message id, empty when the publisher did not set one.
	ID     string
	Queue  string
	Action string
	Data   []byte
}

type EventLogData struct {
	Time    int64  `json:"time"`
	ID      string `json:"id,omitempty"`
	Service string `json:"service"`
	Action  string `json:"action"`
	Data    string `json:"data"`
}

const RabbitMQActionHeader string = "x-action"
const RabbitMQInLogFile string = "log/in.log"
const RabbitMQOutLogFile string = "log/out.log"

// Event modes. LOG appends every consumed and published event to the JSONL logs,
// REPLAY additionally re-dispatches the in log to the listeners on start.
const (
	ModeDisable = "DISABLE"
	ModeLog     = "LOG"
	ModeReplay  = "REPLAY"
)

const publishTimeout = 5 * time.Second

var ErrNoActionHeader = errors.New("message without x-action header")

type RabbitMQ struct {
	connection *amqp.Connection
	channel    *amqp.Channel
	queues     map[string]amqp.Queue
	mode       string
	log        zerolog.Logger

	// guards the log files
	mu      sync.Mutex
	inLog   io.WriteCloser
	outLog  io.WriteCloser
	closers []io.Closer
}

func RabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		config.Config("RABBITMQ_USER"),
		config.Config("RABBITMQ_PASSWORD"),
		config.Config("RABBITMQ_HOST"),
		config.Config("RABBITMQ_PORT"),
	)
}

// RabbitMQConnect dials the broker, opens one channel and declares queues.
func RabbitMQConnect(url string, queues []string, mode string, log zerolog.Logger) (*RabbitMQ, error) {
	connection, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	log.Info().Msg("connection opened to RabbitMQ server")

	channel, err := connection.Channel()
	if err != nil {
		connection.Close()
		return nil, fmt.Errorf("failed to open a RabbitMQ channel: %w", err)
	}

	r := &RabbitMQ{
		connection: connection,
		channel:    channel,
		queues:     make(map[string]amqp.Queue),
		mode:       mode,
		log:        log,
		closers:    []io.Closer{channel, connection},
	}

	for _, name := range queues {
		queue, err := channel.QueueDeclare(
			name,  // name
			false, // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to declare RabbitMQ queue %s: %w", name, err)
		}
		r.queues[name] = queue
		log.Info().Str("queue", name).Msg("declared RabbitMQ queue")
	}

	if r.logging() {
		if err := r.openLogs(RabbitMQInLogFile, RabbitMQOutLogFile); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *RabbitMQ) logging() bool {
	return r.mode == ModeLog || r.mode == ModeReplay
}

func (r *RabbitMQ) openLogs(in, out string) error {
	if err := os.MkdirAll(filepath.Dir(in), 0o700); err != nil {
		return err
	}
	inLog, err := os.OpenFile(in, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	outLog, err := os.OpenFile(out, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		inLog.Close()
		return err
	}
	r.inLog, r.outLog = inLog, outLog
	// closed before the channel and connection
	r.closers = append([]io.Closer{inLog, outLog}, r.closers...)
	return nil
}

// Subscribe consumes queue with manual acks. A delivery is acked once it has been
// handed to the returned channel; deliveries without an action header are dropped.
func (r *RabbitMQ) Subscribe(queue string) (<-chan EventChannelData, error) {
	msgs, err := r.channel.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register a consumer on %s: %w", queue, err)
	}
	r.log.Info().Str("queue", queue).Msg("subscribed to RabbitMQ queue")

	out := make(chan EventChannelData)
	go func() {
		defer close(out)
		for msg := range msgs {
			data, err := decodeDelivery(queue, msg)
			if err != nil {
				r.log.Warn().Err(err).Str("queue", queue).Msg("dropping delivery")
				msg.Nack(false, false)
				continue
			}

			r.writeLog(r.inLog, data)
			out <- data
			msg.Ack(false)
		}
	}()
	return out, nil
}

func decodeDelivery(queue string, msg amqp.Delivery) (EventChannelData, error) {
	action, ok := msg.Headers[RabbitMQActionHeader].(string)
	if !ok || action == "" {
		return EventChannelData{}, ErrNoActionHeader
	}
	return EventChannelData{ID: msg.MessageId, Queue: queue, Action: action, Data: msg.Body}, nil
}

// Emit publishes data on queue through the default exchange.
func (r *RabbitMQ) Emit(ctx context.Context, queue, action string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	id := uuid.NewString()
	err := r.channel.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			MessageId:    id,
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Headers: amqp.Table{
				RabbitMQActionHeader: action,
			},
			Body: data,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s on %s: %w", action, queue, err)
	}

	r.writeLog(r.outLog, EventChannelData{ID: id, Queue: queue, Action: action, Data: data})
	return nil
}

func (r *RabbitMQ) writeLog(w io.Writer, data EventChannelData) {
	if w == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := WriteLog(w, EventLogData{
		Time:    time.Now().UnixMicro(),
		ID:      data.ID,
		Service: data.Queue,
		Action:  data.Action,
		Data:    string(data.Data),
	}); err != nil {
		r.log.Error().Err(err).Str("action", data.Action).Msg("failed to write event log")
	}
}

// ReplayIn re-dispatches the consumed-events log to the listener of each queue.
// It stops early when ctx is done.
func (r *RabbitMQ) ReplayIn(ctx context.Context, listeners map[string]chan<- EventChannelData) error {
	f, err := os.Open(RabbitMQInLogFile)
	if err != nil {
		return err
	}
	defer f.Close()

	// events consumed while replaying are appended to the same file
	info, err := f.Stat()
	if err != nil {
		return err
	}
	n, err := Replay(ctx, io.LimitReader(f, info.Size()), listeners)
	r.log.Info().Int("events", n).Msg("replayed event log")
	return err
}

func (r *RabbitMQ) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// WriteLog appends one JSONL event line to w.
func WriteLog(w io.Writer, data EventLogData) error {
	eventJson, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = w.Write(append(eventJson, '\n'))
	return err
}

// Replay reads JSONL event lines from r and sends each to the listener registered for
// its service. Lines for unknown services and malformed lines are skipped. It returns
// the number of events dispatched.
func Replay(ctx context.Context, r io.Reader, listeners map[string]chan<- EventChannelData) (int, error) {
	n := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		data := EventLogData{}
		if err := json.Unmarshal(scanner.Bytes(), &data); err != nil {
			continue
		}
		listener, ok := listeners[data.Service]
		if !ok {
			continue
		}
		select {
		case listener <- EventChannelData{
			ID:     data.ID,
			Queue:  data.Service,
			Action: data.Action,
			Data:   []byte(data.Data),
		}:
			n++
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
	return n, scanner.Err()
}
