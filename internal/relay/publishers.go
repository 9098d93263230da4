package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/payintents-backend/pkg/outbox/registry"
)

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(ctx context.Context) (serverID string, err error)
}

type publisherSource interface {
	Publisher(topic string) (publisher, error)
}

type topicOpener interface {
	Publisher(topic string) *gcppubsub.Publisher
}

// Publishers opens one ordered publisher per topic and reuses it, so
// batching and ordering state survive across relay batches.
type Publishers struct {
	opener  topicOpener
	mu      sync.Mutex
	byTopic map[string]*gcppubsub.Publisher
}

func NewPublishers(opener topicOpener) *Publishers {
	return &Publishers{opener: opener, byTopic: make(map[string]*gcppubsub.Publisher)}
}

// Publisher returns the publisher for topic. An unknown topic is a
// permanent error.
func (p *Publishers) Publisher(topic string) (publisher, error) {
	if topic == "" {
		return nil, registry.Permanent(errors.New("route has no topic"))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if pub, ok := p.byTopic[topic]; ok {
		return orderedPublisher{pub}, nil
	}
	pub := p.opener.Publisher(topic)
	if pub == nil {
		return nil, registry.Permanent(fmt.Errorf("no publisher for topic %q", topic))
	}
	pub.EnableMessageOrdering = true
	p.byTopic[topic] = pub
	return orderedPublisher{pub}, nil
}

// Stop flushes and closes every open publisher.
func (p *Publishers) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic, pub := range p.byTopic {
		pub.Stop()
		delete(p.byTopic, topic)
	}
}

type orderedPublisher struct {
	*gcppubsub.Publisher
}

func (o orderedPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return o.Publisher.Publish(ctx, msg)
}
