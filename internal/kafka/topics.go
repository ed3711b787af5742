package kafka

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"ms-credentials/internal/config"

	"github.com/segmentio/kafka-go"
)

// AllTopics lists every topic the service reads or writes.
func AllTopics(t config.TopicConfig) []string {
	return []string{
		t.PurchaseCompleted,
		t.PurchaseRefunded,
		t.EventCancelled,
		t.TicketIssued,
		t.TicketCheckedIn,
		t.TicketCancelled,
	}
}

// EnsureTopicsExist creates Kafka topics if they don't already exist
func EnsureTopicsExist(brokers []string, topics []string, logger Logger) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		err = controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
		switch {
		case err == nil:
			logger.LogKafka("CREATE_TOPIC", topic, "created")
		case errors.Is(err, kafka.TopicAlreadyExists):
			logger.LogKafka("CREATE_TOPIC", topic, "already exists")
		default:
			// keep going; the remaining topics may still be creatable
			logger.Warn("KAFKA", fmt.Sprintf("error creating topic %s: %v", topic, err))
		}
	}
	return nil
}
