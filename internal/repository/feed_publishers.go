package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"FinOracle/internal/domain/models"
	"FinOracle/internal/domain/repository"
	"FinOracle/pkg/logger"
)

// MessageWriter is the keyed publish call of pkg/kafka.Producer.
type MessageWriter interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaFeedPublisher sends feed events keyed by symbol.
type KafkaFeedPublisher struct {
	writer  MessageWriter
	topic   string
	metrics repository.Metrics
}

// NewKafkaFeedPublisher creates the Kafka feed sink.
func NewKafkaFeedPublisher(w MessageWriter, topic string, m repository.Metrics) repository.FeedPublisher {
	if m == nil {
		m = repository.NopMetrics{}
	}
	return &KafkaFeedPublisher{writer: w, topic: topic, metrics: m}
}

func (p *KafkaFeedPublisher) Publish(ctx context.Context, e models.FeedEvent) error {
	if err := p.writer.Publish(ctx, p.topic, []byte(e.Symbol), e); err != nil {
		return fmt.Errorf("kafka publish %s: %w", e.RunID, err)
	}
	p.metrics.RecordMessageSent("kafka", e.Symbol)
	return nil
}

func (p *KafkaFeedPublisher) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

// NATSConfig configures the NATS feed sink.
type NATSConfig struct {
	URL           string
	ClientID      string
	SubjectPrefix string
	JetStream     bool
}

// NATSFeedPublisher publishes feed events on <prefix>.<state>.<symbol>.
type NATSFeedPublisher struct {
	cfg     NATSConfig
	nc      *nats.Conn
	js      nats.JetStreamContext
	metrics repository.Metrics
	log     *logger.Logger
}

// NewNATSFeedPublisher connects to NATS. Reconnects are handled by the client.
func NewNATSFeedPublisher(cfg NATSConfig, m repository.Metrics, lgr *logger.Logger) (*NATSFeedPublisher, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "finoracle.feed"
	}
	if m == nil {
		m = repository.NopMetrics{}
	}
	p := &NATSFeedPublisher{cfg: cfg, metrics: m, log: lgr}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientID),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			lgr.Warn("nats disconnected", logger.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			lgr.Info("nats reconnected", logger.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	p.nc = nc
	if cfg.JetStream {
		if p.js, err = nc.JetStream(); err != nil {
			nc.Close()
			return nil, fmt.Errorf("jetstream context: %w", err)
		}
	}
	return p, nil
}

// Subject returns the subject an event is published on.
func (p *NATSFeedPublisher) Subject(e models.FeedEvent) string {
	return FeedSubject(p.cfg.SubjectPrefix, e)
}

// FeedSubject builds <prefix>.<state>.<symbol>.
func FeedSubject(prefix string, e models.FeedEvent) string {
	return fmt.Sprintf("%s.%s.%s", prefix, e.State, strings.ToUpper(e.Symbol))
}

func (p *NATSFeedPublisher) Publish(ctx context.Context, e models.FeedEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	subject := p.Subject(e)
	if p.js != nil {
		_, err = p.js.Publish(subject, data, nats.Context(ctx))
	} else {
		err = p.nc.Publish(subject, data)
	}
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	p.metrics.RecordMessageSent("nats", e.Symbol)
	return nil
}

func (p *NATSFeedPublisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	return p.nc.Drain()
}

// MultiFeedPublisher fans an event out to several sinks and joins their errors.
type MultiFeedPublisher []repository.FeedPublisher

func (m MultiFeedPublisher) Publish(ctx context.Context, e models.FeedEvent) error {
	var errs []string
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("feed publish: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (m MultiFeedPublisher) Close() error {
	var first error
	for _, p := range m {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
