package kafka

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/infra/config"
)

// ProducerOptions tune the account event producer.
type ProducerOptions struct {
	// ClientID identifies the service to the brokers.
	ClientID string
	// OnDeliveryFailure is called with the topic of every event the brokers rejected.
	OnDeliveryFailure func(topic string)
}

// Producer publishes account events through a sarama AsyncProducer.
// Rejected deliveries are logged and counted; publishers never wait on them.
type Producer struct {
	async     sarama.AsyncProducer
	logger    *zap.Logger
	prefix    string
	onFailure func(topic string)
	failed    atomic.Int64
	drained   sync.WaitGroup
	closeOnce sync.Once
}

// NewProducer connects an async producer to the configured brokers.
func NewProducer(cfg config.KafkaSettings, opts ProducerOptions, logger *zap.Logger) (*Producer, error) {
	async, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig(opts.ClientID))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := newProducer(async, cfg, opts, logger)
	logger.Info("kafka producer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic_prefix", cfg.TopicPrefix),
	)
	return p, nil
}

func saramaConfig(clientID string) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V3_5_0_0
	if clientID != "" {
		sc.ClientID = clientID
	}

	// Events are keyed by account id so one account's history stays on one partition.
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Flush.Frequency = 100 * time.Millisecond
	sc.Producer.Flush.Messages = 100
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true

	sc.Metadata.Retry.Max = 3
	sc.Metadata.Retry.Backoff = 250 * time.Millisecond
	return sc
}

func newProducer(async sarama.AsyncProducer, cfg config.KafkaSettings, opts ProducerOptions, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Producer{
		async:     async,
		logger:    logger,
		prefix:    strings.TrimSuffix(cfg.TopicPrefix, "."),
		onFailure: opts.OnDeliveryFailure,
	}

	p.drained.Add(1)
	go p.drainErrors()
	return p
}

// drainErrors runs until sarama closes the error channel on Close.
func (p *Producer) drainErrors() {
	defer p.drained.Done()

	for perr := range p.async.Errors() {
		p.record(perr)
	}
}

func (p *Producer) record(perr *sarama.ProducerError) {
	if perr == nil || perr.Msg == nil {
		return
	}
	p.failed.Add(1)

	key := ""
	if perr.Msg.Key != nil {
		if raw, err := perr.Msg.Key.Encode(); err == nil {
			key = string(raw)
		}
	}
	p.logger.Error("account event delivery failed",
		zap.String("topic", perr.Msg.Topic),
		zap.String("account_id", key),
		zap.Error(perr.Err),
	)
	if p.onFailure != nil {
		p.onFailure(perr.Msg.Topic)
	}
}

// Input is the channel events are enqueued on.
func (p *Producer) Input() chan<- *sarama.ProducerMessage {
	return p.async.Input()
}

// Failed reports how many deliveries the brokers rejected.
func (p *Producer) Failed() int64 {
	return p.failed.Load()
}

// Close flushes buffered events and waits for outstanding failures to be recorded.
func (p *Producer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.logger.Info("closing kafka producer")
		cerr := p.async.Close()
		p.drained.Wait()

		// sarama hands back failures it collected while flushing.
		var pending sarama.ProducerErrors
		if errors.As(cerr, &pending) {
			for _, perr := range pending {
				p.record(perr)
			}
		}
		if cerr != nil {
			err = fmt.Errorf("close kafka producer: %w", cerr)
		}
		p.logger.Info("kafka producer closed", zap.Int64("failed_deliveries", p.Failed()))
	})
	return err
}

// TopicName prefixes eventType with the configured topic prefix once.
func (p *Producer) TopicName(eventType string) string {
	if p.prefix == "" || strings.HasPrefix(eventType, p.prefix+".") {
		return eventType
	}
	return p.prefix + "." + eventType
}
