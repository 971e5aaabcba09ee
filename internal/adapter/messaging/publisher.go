package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/rl1809/registration/internal/core/domain"
	"github.com/rl1809/registration/internal/port"
)

const (
	defaultSubjectPrefix = "registration"
	defaultStreamName    = "REGISTRATION_EVENTS"

	HeaderEventKey   = "x-event-key"
	HeaderEventName  = "x-event-name"
	HeaderDTOVersion = "x-dto-version"
	HeaderCreatedBy  = "x-created-by"
)

var _ port.EventPublisher = (*Publisher)(nil)

type PublisherConfig struct {
	Connect        Connector    // Connect creates the NATS connection. If nil, ConnectDefault() is used.
	Log            *slog.Logger // Log for diagnostics (optional)
	StreamName     string
	SubjectPrefix  string
	Duplicates     time.Duration // Duplicates is the JetStream dedupe window keyed on message id
	PublishTimeout time.Duration
	CreatedBy      string // CreatedBy stamps events built by PublishEntity
}

// Publisher puts registration events on a JetStream stream. The message id
// is the event's key plus DTO version, so a re-published event inside the
// duplicates window is dropped by the server.
type Publisher struct {
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	timeout       time.Duration
	createdBy     string
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", domain.ErrPublishUnavailable, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}
	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}
	duplicates := cfg.Duplicates
	if duplicates <= 0 {
		duplicates = 2 * time.Minute
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	log = log.With(
		slog.String("component", "publisher"),
		slog.String("stream", streamName),
		slog.String("subjectPrefix", subjectPrefix),
	)

	stream, info, err := ensureStream(js, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Duplicates: duplicates,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}
	log.Debug("ensured stream", slog.Uint64("messages", info.State.Msgs))

	return &Publisher{
		closeNc:       closeNc,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: subjectPrefix,
		timeout:       timeout,
		createdBy:     cfg.CreatedBy,
	}, nil
}

func (p *Publisher) Close() error {
	p.js.CleanupPublisher()
	p.closeNc()
	return nil
}

// Subject is where events for one entity land: {prefix}.{eventName}.{entityId}.
func (p *Publisher) Subject(ev domain.Event) string {
	return subjectFor(p.subjectPrefix, ev.Name, ev.EntityID.String())
}

func subjectFor(prefix string, name domain.EventName, id string) string {
	return prefix + "." + string(name) + "." + id
}

// Publish returns once the stream has acknowledged ev.
func (p *Publisher) Publish(ctx context.Context, ev domain.Event) error {
	msg := natsgo.NewMsg(p.Subject(ev))
	msg.Header.Set(HeaderEventKey, ev.Key)
	msg.Header.Set(HeaderEventName, string(ev.Name))
	msg.Header.Set(HeaderDTOVersion, strconv.FormatInt(ev.DTOVersion, 10))
	msg.Header.Set(HeaderCreatedBy, ev.CreatedBy)
	msg.Data = ev.Payload

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ack, err := p.js.PublishMsg(ctx, msg, jetstream.WithMsgID(ev.MsgID()))
	if err != nil {
		return classify(ev, err)
	}
	if ack.Duplicate {
		p.log.Debug("duplicate suppressed", slog.String("msg_id", ev.MsgID()))
	}
	return nil
}

// PublishEntity builds the event for entity and publishes it.
func (p *Publisher) PublishEntity(ctx context.Context, name domain.EventName, entity domain.Entity) (domain.Event, error) {
	ev, err := domain.NewEvent(name, entity, p.createdBy, time.Now())
	if err != nil {
		return domain.Event{}, err
	}
	return ev, p.Publish(ctx, ev)
}

// classify marks transport failures as domain.ErrPublishUnavailable. A
// cancelled caller context is reported as is.
func classify(ev domain.Event, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: publish %s: %w", domain.ErrPublishUnavailable, ev.MsgID(), err)
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (s jetstream.Stream, si *jetstream.StreamInfo, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err = js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err = s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}
