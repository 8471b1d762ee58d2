package bus

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// amqpClient is the production bus client.
type amqpClient struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  zerolog.Logger
}

// Connect dials the bus and opens the client's channel.
func Connect(settings Settings, log zerolog.Logger) (Client, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		settings.Login, settings.Password, settings.Host, settings.Port, settings.VirtualHost)

	var conn *amqp.Connection
	var err error
	if settings.SSL {
		tlsConfig := &tls.Config{}
		if settings.CACerts != "" {
			pem, readErr := os.ReadFile(settings.CACerts)
			if readErr != nil {
				return nil, fmt.Errorf("cannot read bus CA bundle: %w", readErr)
			}
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(pem)
			tlsConfig.RootCAs = pool
		}
		url = fmt.Sprintf("amqps://%s:%s@%s:%d/%s",
			settings.Login, settings.Password, settings.Host, settings.Port, settings.VirtualHost)
		conn, err = amqp.DialTLS(url, tlsConfig)
	} else {
		conn, err = amqp.Dial(url)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot connect to message bus: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("cannot open bus channel: %w", err)
	}
	return &amqpClient{conn: conn, ch: ch, log: log}, nil
}

func (c *amqpClient) Declare(queue string) error {
	_, err := c.ch.QueueDeclare(queue, true, false, false, false, nil)
	return err
}

func (c *amqpClient) Publish(exchange, key string, msg *Message) error {
	body, err := json.Marshal(msg.Body)
	if err != nil {
		return fmt.Errorf("cannot encode message body: %w", err)
	}
	return c.ch.Publish(exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   msg.ID,
		Body:        body,
	})
}

func (c *amqpClient) Subscribe(queue string) (Subscription, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}
	return &amqpSubscription{ch: ch, deliveries: deliveries, log: c.log}, nil
}

func (c *amqpClient) Consume(queue string, prefetch int) (<-chan *Message, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, err
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}

	messages := make(chan *Message)
	go func() {
		defer close(messages)
		for delivery := range deliveries {
			messages <- convertDelivery(delivery, c.log)
		}
	}()
	return messages, nil
}

func (c *amqpClient) Close() error {
	c.ch.Close()
	return c.conn.Close()
}

type amqpSubscription struct {
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
	log        zerolog.Logger
}

func (s *amqpSubscription) Get(timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		delivery, ok := <-s.deliveries
		if !ok {
			return nil, fmt.Errorf("bus subscription closed")
		}
		return convertDelivery(delivery, s.log), nil
	}
	select {
	case delivery, ok := <-s.deliveries:
		if !ok {
			return nil, fmt.Errorf("bus subscription closed")
		}
		return convertDelivery(delivery, s.log), nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (s *amqpSubscription) Close() error {
	return s.ch.Close()
}

func convertDelivery(delivery amqp.Delivery, log zerolog.Logger) *Message {
	body := map[string]any{}
	if len(delivery.Body) > 0 {
		if err := json.Unmarshal(delivery.Body, &body); err != nil {
			log.Warn().Err(err).Str("message_id", delivery.MessageId).
				Msg("message body is not a JSON object")
		}
	}
	return &Message{
		ID:   delivery.MessageId,
		Body: body,
		ack: func() error {
			return delivery.Ack(false)
		},
	}
}
