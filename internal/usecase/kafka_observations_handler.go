package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PatternEngine/internal/domain/models"
	domrepo "PatternEngine/internal/domain/repository"
	pkgkafka "PatternEngine/pkg/kafka"
	applogger "PatternEngine/pkg/logger"
)

// observationBatch is the object form of an ingestion message. A bare JSON
// array of patterns is accepted too and uses the handler's default kind.
type observationBatch struct {
	Kind         string                  `json:"kind"`
	Observations []*models.MarketPattern `json:"observations"`
}

// consolidator is the part of PatternConsolidator the handler needs.
type consolidator interface {
	Consolidate(ctx context.Context, kind string, observations []*models.MarketPattern) ([]*models.MarketPattern, error)
}

// KafkaObservationsHandler consolidates observation batches read from Kafka.
type KafkaObservationsHandler struct {
	topic        string
	kind         string
	consolidator consolidator
	metrics      domrepo.Metrics
	l            *applogger.Logger
}

func NewKafkaObservationsHandler(topic string, c consolidator, metrics domrepo.Metrics, l *applogger.Logger) *KafkaObservationsHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &KafkaObservationsHandler{
		topic:        topic,
		kind:         domrepo.KindConsolidatedPattern,
		consolidator: c,
		metrics:      metrics,
		l:            l,
	}
}

func (h *KafkaObservationsHandler) Topic() string { return h.topic }

// Handle returns an error only for undecodable payloads, so the consumer
// retries and then dead-letters them. Batches without usable patterns are
// logged and acknowledged.
func (h *KafkaObservationsHandler) Handle(ctx context.Context, b []byte) error {
	start := time.Now()
	batch, err := decodeBatch(b)
	if err != nil {
		h.recordError("consumer_unmarshal")
		return err
	}
	if batch.Kind == "" {
		batch.Kind = h.kind
	}

	log := h.l
	if id := pkgkafka.TraceID(ctx); id != "" {
		log = h.l.With(applogger.String("trace_id", id))
	}

	out, err := h.consolidator.Consolidate(ctx, batch.Kind, batch.Observations)
	switch {
	case errors.Is(err, models.ErrEmptyInput):
		log.Debug("empty observation batch", applogger.String("topic", h.topic))
		return nil
	case err != nil:
		h.recordError("consumer_consolidate")
		log.Warn("observation batch dropped",
			applogger.String("topic", h.topic),
			applogger.Int("observations", len(batch.Observations)),
			applogger.Error(err))
		return nil
	}

	if h.metrics != nil {
		h.metrics.RecordLatency("ingest_batch", time.Since(start).Seconds())
	}
	log.Debug("observation batch consolidated",
		applogger.String("kind", batch.Kind),
		applogger.Int("observations", len(batch.Observations)),
		applogger.Int("patterns", len(out)))
	return nil
}

func decodeBatch(b []byte) (observationBatch, error) {
	var batch observationBatch
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &batch.Observations); err != nil {
			return batch, fmt.Errorf("decode observations: %w", err)
		}
		return batch, nil
	}
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return batch, fmt.Errorf("decode observation batch: %w", err)
	}
	return batch, nil
}

func (h *KafkaObservationsHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

var _ pkgkafka.MessageHandler = (*KafkaObservationsHandler)(nil)
