// Package pubsub wraps the Pub/Sub v2 client with the topic and
// subscription names used for payment intent events.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	"github.com/angelmondragon/payintents-backend/pkg/config"
	"github.com/angelmondragon/payintents-backend/pkg/gcp"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
)

const checkTimeout = 10 * time.Second

type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

var (
	errNotInitialized = errors.New("pubsub client not initialized")
	errTopicRequired  = errors.New("pubsub intents topic is required")
)

type Client struct {
	client    *gcppubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

// NewClient connects to Pub/Sub and fails when the intents topic or the
// analytics subscription (when configured) is missing.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID, err := gcp.Project(gcpCfg)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.IntentsTopic) == "" {
		return nil, errTopicRequired
	}

	psClient, err := gcppubsub.NewClient(ctx, projectID, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: psClient, projectID: projectID, cfg: cfg}

	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"topic":        c.resourceName(kindTopic, cfg.IntentsTopic),
			"subscription": c.resourceName(kindSubscription, cfg.AnalyticsSubscription),
		}), "pubsub client initialized")
	}
	return c, nil
}

// Ping checks that the configured topic and subscription still exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	topic := c.resourceName(kindTopic, c.cfg.IntentsTopic)
	if _, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topic}); err != nil {
		return missing(kindTopic, topic, err)
	}
	sub := c.resourceName(kindSubscription, c.cfg.AnalyticsSubscription)
	if sub == "" {
		return nil
	}
	if _, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: sub}); err != nil {
		return missing(kindSubscription, sub, err)
	}
	return nil
}

func missing(kind resourceKind, name string, err error) error {
	if gcp.NotFound(err) {
		return fmt.Errorf("%s %q does not exist", strings.TrimSuffix(string(kind), "s"), name)
	}
	return fmt.Errorf("checking %s %q: %w", strings.TrimSuffix(string(kind), "s"), name, err)
}

// Subscription accepts a subscription id or a full resource name.
func (c *Client) Subscription(name string) *gcppubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := c.resourceName(kindSubscription, name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

func (c *Client) AnalyticsSubscription() *gcppubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.Subscription(c.cfg.AnalyticsSubscription)
}

// Publisher accepts a topic id or a full resource name. Callers own the
// returned handle and must Stop it.
func (c *Client) Publisher(name string) *gcppubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := c.resourceName(kindTopic, name)
	if full == "" {
		return nil
	}
	return c.client.Publisher(full)
}

func (c *Client) IntentsPublisher() *gcppubsub.Publisher {
	if c == nil {
		return nil
	}
	return c.Publisher(c.cfg.IntentsTopic)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName expands a bare id to projects/<project>/<kind>/<id>. Names
// already qualified for kind pass through.
func (c *Client) resourceName(kind resourceKind, name string) string {
	n := strings.TrimSpace(name)
	if c == nil || n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+string(kind)+"/") {
		return n
	}
	if c.projectID == "" {
		return ""
	}
	return "projects/" + c.projectID + "/" + string(kind) + "/" + n
}
