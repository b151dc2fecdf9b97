package transport

// NSQ carries portal messages through an nsqd broker. Every endpoint owns a topic
// named after it and consumes from it; sending means publishing to the
// destination's topic. The sender name travels in an envelope around the
// codec-encoded message, so origins are only as trustworthy as the broker's
// publish ACLs: deploy it where only authenticated endpoints can publish.

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"portal-rpc/codec"
	"portal-rpc/protocol"
)

const nsqChannel = "portal"

var nsqNamePattern = regexp.MustCompile(`^[.a-zA-Z0-9_-]+$`)

type NSQConfig struct {
	Name        string // This endpoint's name; its topic is TopicPrefix + "." + Name
	TopicPrefix string // Defaults to "portal"
	NSQDAddr    string // host:port of nsqd (TCP)
	Codec       codec.Codec
}

type NSQ struct {
	name     string
	prefix   string
	codec    codec.Codec
	producer *nsq.Producer
	consumer *nsq.Consumer
	subs     subscribers
	logger   zerolog.Logger
}

// nsqPeer addresses an endpoint by name.
type nsqPeer string

func (p nsqPeer) Origin() string {
	return "nsq://" + string(p)
}

// nsqEnvelope wraps an encoded message with its sender.
type nsqEnvelope struct {
	From  string `json:"from"`
	Codec byte   `json:"codec"`
	Body  []byte `json:"body"`
}

// NewNSQ connects a producer and a consumer for cfg.Name.
func NewNSQ(cfg NSQConfig) (*NSQ, error) {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "portal"
	}
	if cfg.Codec == nil {
		cfg.Codec = &codec.JSONCodec{}
	}
	topic, err := nsqTopic(cfg.TopicPrefix, cfg.Name)
	if err != nil {
		return nil, err
	}

	t := &NSQ{
		name:   cfg.Name,
		prefix: cfg.TopicPrefix,
		codec:  cfg.Codec,
		logger: log.Logger.With().Str("component", "nsq").Str("name", cfg.Name).Logger(),
	}

	nsqConfig := nsq.NewConfig()
	producer, err := nsq.NewProducer(cfg.NSQDAddr, nsqConfig)
	if err != nil {
		return nil, fmt.Errorf("transport: nsq producer: %w", err)
	}
	t.producer = producer

	consumer, err := nsq.NewConsumer(topic, nsqChannel, nsqConfig)
	if err != nil {
		producer.Stop()
		return nil, fmt.Errorf("transport: nsq consumer: %w", err)
	}
	consumer.AddHandler(nsq.HandlerFunc(t.handleMessage))
	if err := consumer.ConnectToNSQD(cfg.NSQDAddr); err != nil {
		producer.Stop()
		consumer.Stop()
		return nil, fmt.Errorf("transport: nsq connect %s: %w", cfg.NSQDAddr, err)
	}
	t.consumer = consumer
	return t, nil
}

// Peer returns the handle for the endpoint called name.
func (t *NSQ) Peer(name string) Peer {
	return nsqPeer(name)
}

// Self is this endpoint's own handle.
func (t *NSQ) Self() Peer {
	return nsqPeer(t.name)
}

func (t *NSQ) Subscribe(fn Receiver) func() {
	return t.subs.add(fn)
}

func (t *NSQ) Send(msg *protocol.Message, to Peer) error {
	dst, ok := to.(nsqPeer)
	if !ok {
		return ErrNoRoute
	}
	topic, err := nsqTopic(t.prefix, string(dst))
	if err != nil {
		return err
	}
	payload, err := encodeEnvelope(t.codec, t.name, msg)
	if err != nil {
		return err
	}
	return t.producer.Publish(topic, payload)
}

// handleMessage never returns an error: a message we cannot read would only be
// requeued and fail again.
func (t *NSQ) handleMessage(m *nsq.Message) error {
	msg, from, err := decodeEnvelope(m.Body)
	if err != nil {
		t.logger.Debug().Err(err).Msg("dropping undecodable nsq message")
		return nil
	}
	peer := nsqPeer(from)
	t.subs.deliver(msg, peer, peer.Origin())
	return nil
}

// Close stops the consumer, waiting up to five seconds for in-flight handlers,
// then stops the producer.
func (t *NSQ) Close() error {
	t.consumer.Stop()
	var err error
	select {
	case <-t.consumer.StopChan:
	case <-time.After(5 * time.Second):
		err = fmt.Errorf("timed out waiting for nsq consumer to stop")
	}
	t.producer.Stop()
	return err
}

func nsqTopic(prefix, name string) (string, error) {
	topic := prefix + "." + name
	if !nsqNamePattern.MatchString(name) || len(topic) > 64 {
		return "", fmt.Errorf("transport: invalid nsq endpoint name %q", name)
	}
	return topic, nil
}

func encodeEnvelope(c codec.Codec, from string, msg *protocol.Message) ([]byte, error) {
	body, err := c.Encode(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(nsqEnvelope{From: from, Codec: byte(c.Type()), Body: body})
}

func decodeEnvelope(data []byte) (*protocol.Message, string, error) {
	var env nsqEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", err
	}
	if env.From == "" {
		return nil, "", fmt.Errorf("envelope without sender")
	}
	var msg protocol.Message
	if err := codec.GetCodec(codec.CodecType(env.Codec)).Decode(env.Body, &msg); err != nil {
		return nil, "", err
	}
	return &msg, env.From, nil
}
