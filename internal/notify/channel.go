// channel.go wraps a cilium/ebpf ringbuf.Reader over the notification_evt
// map the same way the teacher's kernel.Processor wraps one over its events
// map: a single reader goroutine, a buffered channel for backpressure, and
// a drop counter exposed to metrics. Unlike the teacher's processor, this
// channel carries diagnostics only — nothing here feeds the detector.
package notify

import (
	"context"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"go.uber.org/zap"
)

// Channel reads notifications from the data plane's ring buffer and
// dispatches them to a buffered channel with drop-on-full backpressure.
type Channel struct {
	log     *zap.Logger
	queue   chan Notification
	dropped func()
}

// NewChannel creates a Channel with the given queue capacity. onDrop, if
// non-nil, is called once per dropped notification (wired to
// finelame_notify_dropped_total in cmd/finelame).
func NewChannel(log *zap.Logger, queueCap int, onDrop func()) *Channel {
	if queueCap <= 0 {
		queueCap = 256
	}
	return &Channel{
		log:     log,
		queue:   make(chan Notification, queueCap),
		dropped: onDrop,
	}
}

// Run starts the ring buffer reader goroutine over m and returns the
// notification channel without blocking. The reader goroutine runs until
// ctx is cancelled (or the ring buffer fails unrecoverably), then closes the
// channel.
func (c *Channel) Run(ctx context.Context, m *ebpf.Map) (<-chan Notification, error) {
	rd, err := ringbuf.NewReader(m)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(c.queue)
		defer rd.Close()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_ = rd.SetDeadline(time.Now().Add(200 * time.Millisecond))
			record, err := rd.Read()
			if err != nil {
				if ringbuf.IsUnrecoverableError(err) {
					c.log.Error("notification ring buffer: unrecoverable error", zap.Error(err))
					return
				}
				continue
			}

			n, err := Decode(record.RawSample)
			if err != nil {
				c.log.Warn("malformed notification record", zap.Error(err))
				continue
			}

			select {
			case c.queue <- n:
			default:
				if c.dropped != nil {
					c.dropped()
				}
				c.log.Debug("notification queue full, dropping", zap.String("msg", n.Msg))
			}
		}
	}()

	return c.queue, nil
}
