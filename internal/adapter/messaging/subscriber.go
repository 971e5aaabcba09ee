package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/rl1809/registration/internal/core/domain"
	"github.com/rl1809/registration/internal/port"
)

const defaultAckWait = 30 * time.Second

type SubscriberConfig struct {
	Connect       Connector
	Log           *slog.Logger
	StreamName    string
	SubjectPrefix string
	// Durable names the consumer; empty means an ephemeral consumer that
	// starts with new messages.
	Durable string
	// Events restricts delivery to these event names; empty means all.
	Events []domain.EventName
	// Dedupe drops events whose message id was already handled. Optional.
	Dedupe port.CacheRepository
	// AckWait is how long the server waits for an ack before redelivering.
	// A dedupe claim lives no longer, so a consumer that dies mid-handler
	// does not block the redelivery.
	AckWait time.Duration
}

// Handler processes one event. Returning an error redelivers it.
type Handler func(ctx context.Context, ev domain.Event) error

// Subscriber consumes registration events. The bus delivers at least once;
// with Dedupe set a message id is acked as a duplicate only after a handler
// returned successfully for it.
type Subscriber struct {
	closeNc closeFunc
	stream  jetstream.Stream
	log     *slog.Logger
	cfg     SubscriberConfig
}

func NewSubscriber(cfg SubscriberConfig) (*Subscriber, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	if cfg.StreamName == "" {
		cfg.StreamName = defaultStreamName
	}
	cfg.StreamName = strings.ToUpper(cfg.StreamName)
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaultSubjectPrefix
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = defaultAckWait
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("lookup stream %s: %w", cfg.StreamName, err)
	}

	return &Subscriber{
		closeNc: closeNc,
		stream:  stream,
		log:     log.With(slog.String("component", "subscriber"), slog.String("stream", cfg.StreamName)),
		cfg:     cfg,
	}, nil
}

func (s *Subscriber) Close() error {
	s.closeNc()
	return nil
}

func (s *Subscriber) filterSubjects() []string {
	if len(s.cfg.Events) == 0 {
		return []string{s.cfg.SubjectPrefix + ".>"}
	}
	out := make([]string, 0, len(s.cfg.Events))
	for _, name := range s.cfg.Events {
		out = append(out, subjectFor(s.cfg.SubjectPrefix, name, "*"))
	}
	return out
}

// Consume delivers events to handle until ctx is done.
func (s *Subscriber) Consume(ctx context.Context, handle Handler) error {
	consumerCfg := jetstream.ConsumerConfig{
		Durable:        s.cfg.Durable,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		AckPolicy:      jetstream.AckExplicitPolicy,
		FilterSubjects: s.filterSubjects(),
		AckWait:        s.cfg.AckWait,
	}
	if s.cfg.Durable == "" {
		consumerCfg.DeliverPolicy = jetstream.DeliverNewPolicy
		consumerCfg.InactiveThreshold = 10 * time.Minute
	}

	consumer, err := s.stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer filter_subjects=%+v: %w", consumerCfg.FilterSubjects, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.deliver(ctx, msg, handle)
	})
	if err != nil {
		return err
	}
	defer cc.Drain()

	<-ctx.Done()
	return nil
}

func (s *Subscriber) deliver(ctx context.Context, msg jetstream.Msg, handle Handler) {
	ev, err := domain.DecodeEnvelope(msg.Data())
	if err != nil {
		// Poison message: never redeliver.
		s.log.Error("failed to decode message", slog.String("subject", msg.Subject()), slog.Any("error", err))
		if err := msg.Term(); err != nil {
			s.log.Error("failed to term message", slog.Any("error", err))
		}
		return
	}
	log := s.log.With(slog.String("msg_id", ev.MsgID()))

	if s.cfg.Dedupe != nil {
		state, err := s.cfg.Dedupe.ClaimIdempotency(ctx, ev.MsgID(), s.cfg.AckWait)
		if err != nil {
			log.Warn("dedupe check failed", slog.Any("error", err))
			_ = msg.Nak()
			return
		}
		switch state {
		case port.ClaimDone:
			log.Debug("duplicate dropped")
			_ = msg.Ack()
			return
		case port.ClaimInFlight:
			// Another delivery is still running or died recently; retry once
			// its claim has lapsed.
			log.Debug("delivery in flight, retrying later")
			_ = msg.NakWithDelay(s.cfg.AckWait)
			return
		}
	}

	if err := handle(ctx, ev); err != nil {
		log.Warn("handler failed", slog.Any("error", err))
		if s.cfg.Dedupe != nil {
			if err := s.cfg.Dedupe.ReleaseIdempotency(context.WithoutCancel(ctx), ev.MsgID()); err != nil {
				log.Error("failed to release dedupe claim", slog.Any("error", err))
			}
		}
		_ = msg.Nak()
		return
	}
	if s.cfg.Dedupe != nil {
		if err := s.cfg.Dedupe.CompleteIdempotency(context.WithoutCancel(ctx), ev.MsgID()); err != nil {
			// The claim lapses on its own; a redelivery is handled again.
			log.Error("failed to record handled event", slog.Any("error", err))
		}
	}
	if err := msg.Ack(); err != nil {
		log.Error("failed to ack message", slog.Any("error", err))
	}
}
