// Package bus implements ports.EventBus as an in-process, tenant-
// partitioned stream of framed records. No message-broker client library
// appears anywhere in the retrieval pack, so this stays on stdlib
// channels — see DESIGN.md. Partitioning and bounded-channel backpressure
// follow §5's shared-resource discipline.
package bus

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/psprecon/reconciler/internal/ports"
)

const partitionCount = 16
const partitionBuffer = 256

// Bus fans each topic out across partitionCount bounded channels, keyed
// by PartitionKey (tenant_id), so a backlog blocks only the tenants
// hashed to the same partition (§5 "partition by tenant_id for
// backpressure/ordering"); tenants sharing a partition share its buffer.
type Bus struct {
	mu         sync.RWMutex
	partitions map[ports.Topic][]chan ports.Message
}

func New() *Bus {
	return &Bus{partitions: make(map[ports.Topic][]chan ports.Message)}
}

func (b *Bus) topic(topic ports.Topic) []chan ports.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	chans, ok := b.partitions[topic]
	if !ok {
		chans = make([]chan ports.Message, partitionCount)
		for i := range chans {
			chans[i] = make(chan ports.Message, partitionBuffer)
		}
		b.partitions[topic] = chans
	}
	return chans
}

func partitionFor(key string) int {
	if key == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % partitionCount)
}

// Publish blocks when the target partition's buffer is full, applying
// backpressure rather than growing an unbounded queue (§5).
func (b *Bus) Publish(ctx context.Context, topic ports.Topic, msg ports.Message) error {
	chans := b.topic(topic)
	ch := chans[partitionFor(msg.PartitionKey)]
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a handle draining every partition of topic, merged
// onto one channel. Order is preserved within a partition (one tenant),
// not globally across tenants, matching §5.
func (b *Bus) Subscribe(ctx context.Context, topic ports.Topic) (ports.Subscription, error) {
	chans := b.topic(topic)
	out := make(chan ports.Message, partitionBuffer)
	sub := &subscription{out: out}

	var wg sync.WaitGroup
	subCtx, cancel := context.WithCancel(ctx)
	sub.cancel = cancel

	for _, ch := range chans {
		wg.Add(1)
		go func(ch chan ports.Message) {
			defer wg.Done()
			for {
				select {
				case msg := <-ch:
					select {
					case out <- msg:
					case <-subCtx.Done():
						return
					}
				case <-subCtx.Done():
					return
				}
			}
		}(ch)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return sub, nil
}

type subscription struct {
	out    chan ports.Message
	cancel context.CancelFunc
}

func (s *subscription) Messages() <-chan ports.Message { return s.out }

func (s *subscription) Close() error {
	s.cancel()
	return nil
}
