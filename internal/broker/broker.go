// Package broker はチケットの状態変化をRabbitMQのトピックエクスチェンジに発行します。
package broker

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ルーティングキー
const (
	KeyIssued    = "ticket.issued"
	KeyCheckedIn = "ticket.checked_in"
	KeyCancelled = "ticket.cancelled"
	KeyExpired   = "ticket.expired"
)

// DefaultExchange はチケットイベントを発行するエクスチェンジ名です
const DefaultExchange = "sbcntr-ticket"

// 接続の待ち時間
// amqp.Dial の既定値 (30秒) では再接続中の発行が長く止まるため短くします
const (
	dialTimeout = 2 * time.Second
	heartbeat   = 10 * time.Second
)

// Publisher はイベントの発行先です
type Publisher interface {
	Publish(message interface{}, key string) error
	Close() error
}

type Broker struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	url      string
}

// NewBroker はRabbitMQに接続し、トピックエクスチェンジを宣言します
func NewBroker(rabbitMQURL, exchange string) (*Broker, error) {
	b := &Broker{exchange: exchange, url: rabbitMQURL}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

// New はURLが空の場合に何もしない Publisher を返します
// URLがある場合の発行はキュー経由で非同期に行われ、呼び出し側はRabbitMQを待ちません
func New(rabbitMQURL, exchange string) (Publisher, error) {
	if rabbitMQURL == "" {
		log.Println("RABBITMQ_URL is not set, ticket events will not be published")
		return Noop{}, nil
	}
	b, err := NewBroker(rabbitMQURL, exchange)
	if err != nil {
		return nil, err
	}
	return NewAsync(b, DefaultQueueSize), nil
}

func (b *Broker) connect() error {
	conn, err := amqp.DialConfig(b.url, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		b.exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	b.conn = conn
	b.channel = ch
	return nil
}

func (b *Broker) ensureConnection() error {
	if b.conn == nil || b.conn.IsClosed() || b.channel == nil || b.channel.IsClosed() {
		if b.conn != nil && !b.conn.IsClosed() {
			b.conn.Close()
		}
		log.Println("Reconnecting to RabbitMQ")
		return b.connect()
	}
	return nil
}

// Publish はメッセージをJSONにして発行します
// amqp.Channel は並行利用できないため、発行はロックで直列化します
func (b *Broker) Publish(message interface{}, key string) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureConnection(); err != nil {
		return err
	}

	err = b.channel.Publish(
		b.exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Noop は何も発行しない Publisher です
type Noop struct{}

func (Noop) Publish(interface{}, string) error { return nil }
func (Noop) Close() error                      { return nil }
