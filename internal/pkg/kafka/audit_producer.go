package kafka

import (
	"Meetstreet/internal/api/config"
	log "log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// CallAudit 通话终局审计事件
// 通话会话本身只存活于进程内存，终止时在这里留下唯一的持久痕迹。
type CallAudit struct {
	CallID      string    `json:"call_id"`
	Caller      uint64    `json:"caller"`
	Callee      uint64    `json:"callee"`
	Kind        string    `json:"kind"`
	FinalState  string    `json:"final_state"`
	Reason      string    `json:"reason"`
	ProposedAt  time.Time `json:"proposed_at"`
	RingingAt   time.Time `json:"ringing_at,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	EndedAt     time.Time `json:"ended_at"`
}

// AuditProducer 异步发布审计事件到 Kafka
type AuditProducer struct {
	producer sarama.AsyncProducer
	topic    string
}

func NewAuditProducer(cfg *config.Config) (*AuditProducer, error) {
	producer, err := sarama.NewAsyncProducer(cfg.Kafka.Brokers, newSaramaConfig(cfg.Kafka))
	if err != nil {
		return nil, errors.Wrap(err, "create kafka async producer")
	}

	p := &AuditProducer{
		producer: producer,
		topic:    cfg.Kafka.AuditTopic,
	}

	// 异步错误只记日志，审计丢失不反压业务
	go func() {
		for err := range producer.Errors() {
			log.Error("kafka audit produce failed", "topic", p.topic, "err", err)
		}
	}()

	return p, nil
}

// PublishCallAudit 发布一条通话审计事件，以 call_id 作分区键
func (p *AuditProducer) PublishCallAudit(evt *CallAudit) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "marshal call audit")
	}

	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(evt.CallID),
		Value: sarama.ByteEncoder(data),
	}
	return nil
}

func (p *AuditProducer) Close() error {
	if err := p.producer.Close(); err != nil {
		return errors.Wrap(err, "close kafka audit producer")
	}
	return nil
}
