package events

import (
	"encoding/json"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/etekin/library-backend/internal/model"
	"github.com/etekin/library-backend/pkg/kafka"
)

// Publisher emits lending lifecycle events. Publishing is best-effort:
// a broker failure is logged and never fails the request that caused it.
type Publisher interface {
	Publish(e model.LendingEvent)
}

func NewPublisher(producer sarama.SyncProducer, log *zap.Logger) Publisher {
	return &kafkaPublisher{
		producer: producer,
		log:      log.Named("events"),
	}
}

type kafkaPublisher struct {
	producer sarama.SyncProducer
	log      *zap.Logger
}

func (p *kafkaPublisher) Publish(e model.LendingEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		p.log.Error("marshal event", zap.Error(err))
		return
	}
	msg := &sarama.ProducerMessage{Topic: kafka.LendingTopic, Value: sarama.StringEncoder(data)}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		p.log.Error("publish event", zap.String("kind", e.Kind), zap.Error(err))
	}
}

// NewNop is used when Kafka is disabled.
func NewNop() Publisher {
	return nopPublisher{}
}

type nopPublisher struct{}

func (nopPublisher) Publish(model.LendingEvent) {}
