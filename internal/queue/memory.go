package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/media-converter/internal/domain"
)

// ErrLeaseExpired is returned when settling a delivery whose lease already ran out
var ErrLeaseExpired = errors.New("delivery lease expired")

type memoryMessage struct {
	body        []byte
	redelivered bool
}

type lease struct {
	msg   *memoryMessage
	timer *time.Timer
}

// Memory is an in-process queue with competing consumers and lease-based
// redelivery. Messages are lost when the process exits.
type Memory struct {
	mu       sync.Mutex
	ready    []*memoryMessage
	inflight map[uint64]*lease
	dead     [][]byte
	nextTag  uint64
	lease    time.Duration
	signal   chan struct{}
	done     chan struct{}
	closed   bool
	logger   *slog.Logger
}

// NewMemory creates a new Memory queue. leaseDuration bounds how long a
// delivery may stay unsettled before it is redelivered.
func NewMemory(leaseDuration time.Duration, logger *slog.Logger) *Memory {
	return &Memory{
		inflight: make(map[uint64]*lease),
		lease:    leaseDuration,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Publish enqueues a task
func (m *Memory) Publish(_ context.Context, task domain.Task) error {
	body, err := EncodeTask(task)
	if err != nil {
		return err
	}
	return m.PublishRaw(body)
}

// PublishRaw enqueues an arbitrary payload
func (m *Memory) PublishRaw(body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("queue closed")
	}

	m.ready = append(m.ready, &memoryMessage{body: body})
	m.wake()
	return nil
}

// wake signals one waiting consumer. Caller holds mu.
func (m *Memory) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Consume starts delivering messages to the returned channel until ctx is done
func (m *Memory) Consume(ctx context.Context, consumerTag string) (<-chan Delivery, error) {
	out := make(chan Delivery)

	go func() {
		defer close(out)

		for {
			d, ok := m.next()
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-m.done:
					return
				case <-m.signal:
					continue
				}
			}

			select {
			case out <- d:
			case <-ctx.Done():
				_ = d.Nack(true)
				return
			case <-m.done:
				return
			}
		}
	}()

	m.logger.Debug("Started consuming from memory queue", slog.String("consumer_tag", consumerTag))
	return out, nil
}

// next pops a ready message and leases it
func (m *Memory) next() (Delivery, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || len(m.ready) == 0 {
		return Delivery{}, false
	}

	msg := m.ready[0]
	m.ready = m.ready[1:]
	if len(m.ready) > 0 {
		m.wake()
	}

	m.nextTag++
	tag := m.nextTag
	m.inflight[tag] = &lease{
		msg:   msg,
		timer: time.AfterFunc(m.lease, func() { m.expire(tag) }),
	}

	d := Delivery{
		Body:        msg.body,
		Redelivered: msg.redelivered,
		ack:         func() error { return m.settle(tag, false, false) },
		nack:        func(requeue bool) error { return m.settle(tag, true, requeue) },
	}
	d.Task, d.Err = DecodeTask(msg.body)

	return d, true
}

// expire returns a message whose lease ran out to the ready list
func (m *Memory) expire(tag uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.inflight[tag]
	if !ok {
		return
	}
	delete(m.inflight, tag)

	if m.closed {
		return
	}

	l.msg.redelivered = true
	m.ready = append(m.ready, l.msg)
	m.wake()

	m.logger.Warn("Delivery lease expired, message redelivered", slog.Uint64("delivery_tag", tag))
}

func (m *Memory) settle(tag uint64, nack, requeue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.inflight[tag]
	if !ok {
		return ErrLeaseExpired
	}
	l.timer.Stop()
	delete(m.inflight, tag)

	if !nack {
		return nil
	}

	if requeue && !m.closed {
		l.msg.redelivered = true
		m.ready = append(m.ready, l.msg)
		m.wake()
		return nil
	}

	m.dead = append(m.dead, l.msg.body)
	return nil
}

// Len returns the number of ready messages
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ready)
}

// InFlight returns the number of leased, unsettled messages
func (m *Memory) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// DeadLetters returns payloads rejected without requeue
func (m *Memory) DeadLetters() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.dead))
	copy(out, m.dead)
	return out
}

// Close stops all consumers and drops pending leases
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)

	for tag, l := range m.inflight {
		l.timer.Stop()
		delete(m.inflight, tag)
	}

	return nil
}
