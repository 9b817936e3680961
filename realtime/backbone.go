package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const backboneBuffer = 256

type envelope struct {
	Origin  string `json:"origin"`
	BoardID string `json:"boardId"`
	Exclude string `json:"exclude,omitempty"`
	Frame   []byte `json:"frame"`
}

// RedisBackbone relays hub events between instances over a redis pub/sub
// channel. Frames from this instance are skipped on receipt.
type RedisBackbone struct {
	rc      *redis.Client
	channel string
	hub     *Hub
	logger  *log.Logger
	origin  string
	out     chan envelope

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRedisBackbone(rc *redis.Client, channel string, hub *Hub, logger *log.Logger) *RedisBackbone {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisBackbone{
		rc:      rc,
		channel: channel,
		hub:     hub,
		logger:  logger,
		origin:  uuid.NewString(),
		out:     make(chan envelope, backboneBuffer),
		ready:   make(chan struct{}),
	}
}

// Ready is closed after the first successful subscription.
func (b *RedisBackbone) Ready() <-chan struct{} { return b.ready }

// Relay queues a frame for other instances. It never blocks; frames are
// dropped when the queue is full.
func (b *RedisBackbone) Relay(boardID string, frame []byte, exclude string) {
	select {
	case b.out <- envelope{Origin: b.origin, BoardID: boardID, Exclude: exclude, Frame: frame}:
	default:
		b.logger.WithField("board", boardID).Warn("backbone queue full, frame not relayed")
	}
}

// Run publishes queued frames and delivers frames from other instances
// until ctx is done.
func (b *RedisBackbone) Run(ctx context.Context) {
	go b.publishLoop(ctx)
	b.subscribeLoop(ctx)
}

func (b *RedisBackbone) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-b.out:
			data, err := sonic.Marshal(env)
			if err != nil {
				b.logger.WithError(err).Error("failed to encode backbone envelope")
				continue
			}
			if err := b.rc.Publish(ctx, b.channel, data).Err(); err != nil && ctx.Err() == nil {
				b.logger.WithError(err).WithField("board", env.BoardID).Error("failed to relay frame")
			}
		}
	}
}

func (b *RedisBackbone) subscribeLoop(ctx context.Context) {
	for {
		sub := b.rc.Subscribe(ctx, b.channel)
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			if ctx.Err() != nil {
				return
			}
			b.logger.WithError(err).Error("backbone subscribe failed, retrying")
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}
		b.readyOnce.Do(func() { close(b.ready) })
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				b.handle(msg.Payload)
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("backbone channel closed, reconnecting")
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func (b *RedisBackbone) handle(payload string) {
	var env envelope
	if err := sonic.UnmarshalString(payload, &env); err != nil {
		b.logger.WithError(err).Warn("unable to parse backbone envelope")
		return
	}
	if env.Origin == b.origin || env.BoardID == "" {
		return
	}
	b.hub.deliver(env.BoardID, env.Frame, env.Exclude)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
