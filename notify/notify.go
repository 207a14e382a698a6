// Package notify sends trip change jobs to Pub/Sub, where the push notification service picks
// them up.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"

	"carpool/carpool"
	log "carpool/cloudlog"
	"carpool/metrics"
)

const maxPending = 100 // arbitrary number

// ErrTooManyPending is returned when maxPending publishes are still unacknowledged.
var ErrTooManyPending = errors.New("too many pending notifications")

// Publisher implements carpool.Notifier on a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	// ownsClient is set when Close must close client too.
	ownsClient bool

	requests *requestPool
}

var _ carpool.Notifier = (*Publisher)(nil)

// New publishes to topicID through client.
func New(client *pubsub.Client, topicID string) *Publisher {
	return &Publisher{
		client:   client,
		topic:    client.Topic(topicID),
		requests: &requestPool{},
	}
}

// Open creates a client for projectID and publishes to topicID.
func Open(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("starting pubsub client: %w", err)
	}
	p := New(client, topicID)
	p.ownsClient = true
	return p, nil
}

// Notify implements carpool.Notifier. It returns once the message is queued; the publish outcome
// is logged when the server answers.
func (p *Publisher) Notify(ctx context.Context, c carpool.Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling change %#v: %w", c, err)
	}
	if !p.requests.reserve() {
		return ErrTooManyPending
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind": string(c.Kind),
			"trip": c.TripKey,
		},
	})
	p.requests.add(result, c)
	return nil
}

// Flush waits for every pending publish to be answered.
func (p *Publisher) Flush() {
	p.requests.wait()
}

// Close flushes and stops the topic's background publishing.
func (p *Publisher) Close() error {
	p.Flush()
	p.topic.Stop()
	if p.ownsClient {
		return p.client.Close()
	}
	return nil
}

// requestPool bounds the number of unanswered publishes and reports their failures.
type requestPool struct {
	mu      sync.Mutex
	pending int
	wg      sync.WaitGroup
}

func (rp *requestPool) reserve() bool {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.pending >= maxPending {
		return false
	}
	rp.pending++
	rp.wg.Add(1)
	return true
}

func (rp *requestPool) add(result *pubsub.PublishResult, c carpool.Change) {
	go func() {
		defer rp.done()
		if _, err := result.Get(context.Background()); err != nil {
			metrics.NotificationsFailed.Inc()
			log.Printf("publishing %s for trip %s: %v", c.Kind, c.TripKey, err)
		}
	}()
}

func (rp *requestPool) done() {
	rp.mu.Lock()
	rp.pending--
	rp.mu.Unlock()
	rp.wg.Done()
}

func (rp *requestPool) wait() {
	rp.wg.Wait()
}
