package notify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// RabbitSink publishes events to per-event-type queues named
// <prefix>_<event>. Queues are declared durable on first use.
type RabbitSink struct {
	mu          sync.Mutex
	conn        *amqp091.Connection
	channel     *amqp091.Channel
	queuePrefix string
	declared    map[string]bool
}

func DialRabbit(url, queuePrefix string) (*RabbitSink, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Info().Str("prefix", queuePrefix).Msg("RabbitMQ connection established")
	return &RabbitSink{
		conn:        conn,
		channel:     channel,
		queuePrefix: queuePrefix,
		declared:    make(map[string]bool),
	}, nil
}

func (s *RabbitSink) queueName(eventType string) string {
	return s.queuePrefix + "_" + strings.ToLower(eventType)
}

func (s *RabbitSink) Deliver(ctx context.Context, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.Name).Msg("Failed to marshal event for RabbitMQ")
		return
	}
	queue := s.queueName(ev.Name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.declared[queue] {
		_, err := s.channel.QueueDeclare(
			queue,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			log.Error().Err(err).Str("queue", queue).Msg("Could not declare RabbitMQ queue")
			return
		}
		s.declared[queue] = true
	}

	err = s.channel.PublishWithContext(ctx,
		"",    // exchange (default)
		queue, // routing key = queue
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("Could not publish to RabbitMQ")
	} else {
		log.Debug().Str("queue", queue).Str("event", ev.Name).Msg("Published event to RabbitMQ")
	}
}

func (s *RabbitSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
