package repository

import (
	"context"
	"fmt"

	"PatternEngine/internal/domain/models"
	domrepo "PatternEngine/internal/domain/repository"
	"PatternEngine/pkg/kafka"
	applogger "PatternEngine/pkg/logger"
)

// patternEnvelope is the record published for each stored pattern.
type patternEnvelope struct {
	Kind    string                `json:"kind"`
	Pattern *models.MarketPattern `json:"pattern"`
}

// KafkaStore publishes patterns to a topic keyed by pattern id.
type KafkaStore struct {
	producer *kafka.Producer
	topic    string
	metrics  domrepo.Metrics
	l        *applogger.Logger
}

// NewKafkaStore creates a Kafka sink over an existing producer.
func NewKafkaStore(p *kafka.Producer, topic string, m domrepo.Metrics, l *applogger.Logger) *KafkaStore {
	if topic == "" {
		topic = "patterns.consolidated"
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &KafkaStore{producer: p, topic: topic, metrics: m, l: l}
}

func (s *KafkaStore) StoreEntity(ctx context.Context, kind string, p *models.MarketPattern) error {
	if p == nil {
		return fmt.Errorf("store entity: nil pattern")
	}
	msg := kafka.Message{
		Key:     []byte(p.PatternID),
		Value:   patternEnvelope{Kind: kind, Pattern: p},
		Headers: map[string]string{"kind": kind, "pattern_type": string(p.PatternType)},
	}
	if err := s.producer.PublishBatch(ctx, s.topic, []kafka.Message{msg}); err != nil {
		return fmt.Errorf("kafka store %s: %w", p.PatternID, err)
	}
	if s.metrics != nil {
		s.metrics.RecordStored("kafka", kind)
	}
	return nil
}

func (s *KafkaStore) Close() error {
	return s.producer.Close()
}
