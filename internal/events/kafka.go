// README: Ride lifecycle events published to Kafka, one topic per target status.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"ridecore/internal/modules/ride"
)

// Well-known topic names.
const (
	TopicRideRequested = "ride.requested"
	TopicRideAccepted  = "ride.accepted"
	TopicRideStarted   = "ride.started"
	TopicRideCompleted = "ride.completed"
	TopicRideCancelled = "ride.cancelled"
)

var topicByStatus = map[ride.Status]string{
	ride.StatusPending:    TopicRideRequested,
	ride.StatusAccepted:   TopicRideAccepted,
	ride.StatusInProgress: TopicRideStarted,
	ride.StatusCompleted:  TopicRideCompleted,
	ride.StatusCancelled:  TopicRideCancelled,
}

// Topics lists every topic the publisher may write to.
func Topics() []string {
	return []string{TopicRideRequested, TopicRideAccepted, TopicRideStarted, TopicRideCompleted, TopicRideCancelled}
}

// TopicFor maps a transition's target status to its topic.
func TopicFor(to ride.Status) (string, bool) {
	t, ok := topicByStatus[to]
	return t, ok
}

// KafkaPublisher writes events keyed by ride id, so one ride's events land
// on one partition in commit order.
type KafkaPublisher struct {
	brokers []string
	writer  *kafkago.Writer
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		brokers: brokers,
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e ride.Event) error {
	msg, err := Message(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

// EnsureTopics creates the topics if they don't already exist (with retry).
func (p *KafkaPublisher) EnsureTopics(ctx context.Context, attempts int) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	topics := Topics()
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := kafkago.DialContext(ctx, "tcp", p.brokers[0])
		if err != nil {
			log.Printf("[events] kafka not ready, retrying in 3s... (%d/%d)", attempt, attempts)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}

		configs := make([]kafkago.TopicConfig, len(topics))
		for i, t := range topics {
			configs[i] = kafkago.TopicConfig{
				Topic:             t,
				NumPartitions:     3,
				ReplicationFactor: 1,
			}
		}
		err = conn.CreateTopics(configs...)
		conn.Close()
		if err != nil {
			log.Printf("[events] topic creation returned (may already exist): %v", err)
		}
		return nil
	}
	return fmt.Errorf("kafka: could not connect after %d attempts", attempts)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Message encodes an event as a Kafka message on its status topic.
func Message(e ride.Event) (kafkago.Message, error) {
	topic, ok := TopicFor(e.To)
	if !ok {
		return kafkago.Message{}, fmt.Errorf("no topic for status %q", e.To)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(e.RideID),
		Value: data,
		Time:  e.At,
	}, nil
}
