// Package kafka publishes redemption events to a Kafka topic.
package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/xenking/promo-engine/internal/domain/promo"
)

// EventType is set as the "type" header of every record.
const EventType = "promo.redemption"

// Config selects the cluster and topic.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
	// Partitions and ReplicationFactor are used when the topic has to be
	// created. -1 leaves the choice to the broker.
	Partitions        int32
	ReplicationFactor int16
}

// Publisher implements promo.Publisher on a franz-go client.
type Publisher struct {
	client *kgo.Client
	topic  string
}

var _ promo.Publisher = (*Publisher)(nil)

// New connects to cfg.Brokers.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no brokers")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5 * time.Millisecond),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka client")
	}
	return &Publisher{client: client, topic: cfg.Topic}, nil
}

// EnsureTopic creates the topic unless it already exists.
func (p *Publisher) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, p.topic)
	if err != nil {
		return errors.Wrapf(err, "create topic %s", p.topic)
	}
	for _, t := range resp {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return errors.Wrapf(t.Err, "create topic %s", t.Topic)
		}
	}
	return nil
}

// Publish writes e synchronously, keyed by code so events of one code stay
// ordered.
func (p *Publisher) Publish(ctx context.Context, e promo.Event) error {
	rec := &kgo.Record{
		Key:   []byte(e.Code),
		Value: Encode(e),
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(EventType)},
			{Key: "namespace", Value: []byte(e.Namespace)},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return errors.Wrap(err, "produce")
	}
	return nil
}

// Ping checks broker connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes buffered records and closes the client.
func (p *Publisher) Close(ctx context.Context) error {
	defer p.client.Close()
	if err := p.client.Flush(ctx); err != nil {
		return errors.Wrap(err, "flush")
	}
	return nil
}

// Encode renders e as the JSON record value.
func Encode(e promo.Event) []byte {
	var w jx.Encoder
	w.ObjStart()
	w.FieldStart("code")
	w.Str(e.Code)
	w.FieldStart("namespace")
	w.Str(string(e.Namespace))
	w.FieldStart("type")
	w.Str(string(e.Type))
	w.FieldStart("orderId")
	w.Str(e.OrderID)
	if e.Email != "" {
		w.FieldStart("email")
		w.Str(e.Email)
	}
	w.FieldStart("subtotal")
	w.Int64(e.Subtotal)
	w.FieldStart("amount")
	w.Int64(e.Amount)
	w.FieldStart("freeShipping")
	w.Bool(e.FreeShipping)
	w.FieldStart("redeemedAt")
	w.Str(e.RedeemedAt.UTC().Format(time.RFC3339Nano))
	w.ObjEnd()
	return w.Bytes()
}
