package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mkraev/instruction-engine/internal/core/domain"
	"github.com/mkraev/instruction-engine/internal/infrastructure/resilience"
)

// Bus carries the two cross-process signals of the engine: template
// reload broadcasts and background indexing jobs. Reload fan-out goes
// to every subscriber; index jobs are load-balanced across a worker
// queue group.
type Bus struct {
	conn          *nats.Conn
	reloadSubject string
	indexSubject  string
	executor      *resilience.Executor
}

func New(url, reloadSubject, indexSubject string) (*Bus, error) {
	return NewWithOptions(url, reloadSubject, indexSubject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func NewWithOptions(url, reloadSubject, indexSubject string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("instruction-engine"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected: %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:          conn,
		reloadSubject: reloadSubject,
		indexSubject:  indexSubject,
		executor:      options.ResilienceExecutor,
	}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Bus) PublishTemplatesChanged(ctx context.Context) error {
	return b.publish(ctx, b.reloadSubject, nil)
}

// SubscribeTemplatesChanged delivers every reload signal to the handler
// until ctx is cancelled. Plain subscription: every process holding a
// template snapshot must see the signal.
func (b *Bus) SubscribeTemplatesChanged(ctx context.Context, handler func(context.Context)) error {
	sub, err := b.conn.Subscribe(b.reloadSubject, func(_ *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		handler(ctx)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", b.reloadSubject, err)
	}
	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	return b.drain(sub)
}

func (b *Bus) PublishIndexRequested(ctx context.Context, job domain.IndexJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal index job: %w", err)
	}
	return b.publish(ctx, b.indexSubject, payload)
}

// SubscribeIndexRequested consumes index jobs in the "workers" queue
// group, so each job lands on exactly one worker process.
func (b *Bus) SubscribeIndexRequested(ctx context.Context, handler func(context.Context, domain.IndexJob) error) error {
	sub, err := b.conn.QueueSubscribe(b.indexSubject, "workers", func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		var job domain.IndexJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			log.Printf("drop malformed index job: %v", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, job); err != nil {
			log.Printf("index job %s failed for doc=%s: %v", job.JobID, job.DocumentID, err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", b.indexSubject, err)
	}
	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	return b.drain(sub)
}

func (b *Bus) publish(ctx context.Context, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := b.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapUpstreamIfNeeded(err)
	}
	return nil
}

func (b *Bus) drain(sub *nats.Subscription) error {
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
