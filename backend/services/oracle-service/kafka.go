package main

import (
	"encoding/json"
	"log"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

// Publisher mirrors bridge activity onto a Kafka topic for downstream
// consumers (dashboards, reconciliation jobs). Publishing is best effort:
// the ledger remains the source of truth.
type Publisher struct {
	producer *kafka.Producer
	topic    string
}

// BridgeEvent is the message shape published for each bridge action.
type BridgeEvent struct {
	Kind    string `json:"kind"` // "attested", "signed"
	Ref     string `json:"ref,omitempty"`
	ID      uint64 `json:"id,omitempty"`
	Account string `json:"account,omitempty"`
	Amount  uint64 `json:"amount,omitempty"`
	ChainID uint32 `json:"chain_id,omitempty"`
}

func NewPublisher(broker, topic string) (*Publisher, error) {
	if broker == "" {
		return nil, nil
	}
	producer, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": broker})
	if err != nil {
		return nil, err
	}
	return &Publisher{producer: producer, topic: topic}, nil
}

func (p *Publisher) Publish(event BridgeEvent) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to marshal bridge event: %v", err)
		return
	}
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.Ref),
		Value:          payload,
	}, nil)
	if err != nil {
		log.Printf("Failed to publish bridge event: %v", err)
	}
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.producer.Flush(5000)
	p.producer.Close()
}
