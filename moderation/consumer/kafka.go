package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/chatwarden/warden/moderation/engine"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"
)

// The subset of the engine a transport drives.
type Processor interface {
	ProcessMessage(ctx context.Context, evt engine.MessageEvent) (*engine.Decision, error)
	ProcessJoin(ctx context.Context, evt engine.JoinEvent) (*engine.Decision, error)
	ProcessCommand(ctx context.Context, cmd engine.Command) (*engine.CommandResult, error)
}

var ErrMalformedEvent = errors.New("malformed inbound event")

type KafkaConfig struct {
	Brokers    []string
	InputTopic string
	// decisions are produced here when set
	OutputTopic string
	Group       string
	// max partitions processed concurrently. records within a partition are always processed in order
	Parallelism int
	Logger      *slog.Logger
}

// Consumes inbound chat events from a Kafka topic and feeds them to the engine.
//
// Producers are expected to key records by chat id, so that all events for a chat land on one partition and are handled in order.
type KafkaConsumer struct {
	client    *kgo.Client
	processor Processor
	config    KafkaConfig
	logger    *slog.Logger
}

func NewKafkaConsumer(config KafkaConfig, proc Processor) (*KafkaConsumer, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if config.InputTopic == "" {
		return nil, fmt.Errorf("kafka input topic is required")
	}
	if config.Group == "" {
		config.Group = "warden"
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 8
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(config.Brokers...),
		kgo.ConsumerGroup(config.Group),
		kgo.ConsumeTopics(config.InputTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.FetchMaxWait(time.Second),
		// offsets are committed only after a batch has been processed and its decisions produced
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.ProduceRequestTimeout(5 * time.Second),
		kgo.RecordDeliveryTimeout(10 * time.Second),
	}
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}

	return &KafkaConsumer{
		client:    cl,
		processor: proc,
		config:    config,
		logger:    logger.With("component", "kafka-consumer", "topic", config.InputTopic),
	}, nil
}

// Polls and processes events until the context is cancelled.
func (kc *KafkaConsumer) Run(ctx context.Context) error {
	kc.logger.Info("starting kafka consumer", "brokers", kc.config.Brokers, "group", kc.config.Group)
	for {
		fetches := kc.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		for _, fe := range fetches.Errors() {
			kc.logger.Error("kafka fetch error", "topic", fe.Topic, "partition", fe.Partition, "err", fe.Err)
		}

		var eg errgroup.Group
		eg.SetLimit(kc.config.Parallelism)
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			eg.Go(func() error {
				return kc.processPartition(ctx, p.Records)
			})
		})
		err := eg.Wait()
		// every polled record has been applied to the engine by now (or skipped as malformed), so
		// offsets are committed even if producing decisions failed: redelivery would escalate twice
		commitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if cerr := kc.client.CommitUncommittedOffsets(commitCtx); cerr != nil {
			kc.logger.Error("failed to commit kafka offsets", "err", cerr)
		}
		cancel()
		kc.client.AllowRebalance()
		if err != nil {
			return err
		}
	}
}

func (kc *KafkaConsumer) processPartition(ctx context.Context, recs []*kgo.Record) error {
	var out []*kgo.Record
	for _, rec := range recs {
		result, err := kc.HandleRecord(ctx, rec)
		if err != nil {
			// bad input is skipped rather than blocking the partition
			kc.logger.Warn("skipping inbound record", "partition", rec.Partition, "offset", rec.Offset, "err", err)
			continue
		}
		if result != nil {
			out = append(out, result)
		}
	}
	if len(out) == 0 {
		return nil
	}
	if err := kc.client.ProduceSync(ctx, out...).FirstErr(); err != nil {
		// the decisions are lost, but their effects are already persisted
		producedErrorCount.Inc()
		kc.logger.Error("failed to produce decisions", "partition", recs[0].Partition, "count", len(out), "err", err)
		return nil
	}
	producedCount.Add(float64(len(out)))
	return nil
}

// Decodes and processes a single record, returning the output record (nil when no output topic is configured).
func (kc *KafkaConsumer) HandleRecord(ctx context.Context, rec *kgo.Record) (*kgo.Record, error) {
	var evt InboundEvent
	if err := json.Unmarshal(rec.Value, &evt); err != nil {
		consumedCount.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	out, err := Dispatch(ctx, kc.processor, &evt)
	if err != nil {
		consumedCount.WithLabelValues("malformed").Inc()
		return nil, err
	}
	consumedCount.WithLabelValues(evt.Kind).Inc()
	if out.Error != "" && out.ErrorKind == "internal" {
		kc.logger.Error("failed to process inbound event", "kind", evt.Kind, "chat", out.ChatID, "err", out.Error)
	}
	if kc.config.OutputTopic == "" {
		return nil, nil
	}
	val, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: kc.config.OutputTopic,
		Key:   []byte(strconv.FormatInt(out.ChatID, 10)),
		Value: val,
	}, nil
}

// Routes an inbound event to the matching engine entry point. Rejections from the engine (forbidden, invalid argument, unknown command) are carried in the result, not returned as errors.
func Dispatch(ctx context.Context, proc Processor, evt *InboundEvent) (*OutboundDecision, error) {
	out := &OutboundDecision{Kind: evt.Kind, ChatID: evt.ChatID()}
	var err error
	switch evt.Kind {
	case KindMessage:
		if evt.Message == nil {
			return nil, fmt.Errorf("%w: message event without message payload", ErrMalformedEvent)
		}
		out.Decision, err = proc.ProcessMessage(ctx, *evt.Message)
	case KindJoin:
		if evt.Join == nil {
			return nil, fmt.Errorf("%w: join event without join payload", ErrMalformedEvent)
		}
		out.Decision, err = proc.ProcessJoin(ctx, *evt.Join)
	case KindCommand:
		if evt.Command == nil {
			return nil, fmt.Errorf("%w: command event without command payload", ErrMalformedEvent)
		}
		out.Result, err = proc.ProcessCommand(ctx, *evt.Command)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, evt.Kind)
	}
	if err != nil {
		out.Error = err.Error()
		out.ErrorKind = engine.ErrorKind(err)
	}
	return out, nil
}

func (kc *KafkaConsumer) Close() {
	kc.client.Close()
}
