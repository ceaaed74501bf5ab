// internal/driver/slamtec/pump.go
package slamtec

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"lidar-service/internal/protocol"
	"lidar-service/pkg/lidar"
)

// scanPump drains the channel while a scan is running, parsing nodes into a
// bounded sample cache that GrabFrame empties. The cache absorbs the burst
// of a revolution; when the host falls behind, the oldest samples are
// dropped rather than letting the cache grow.
type scanPump struct {
	channel  protocol.Channel
	nodeLen  int
	parse    func([]byte) (lidar.Sample, error)
	capacity int
	logger   *zap.Logger

	mutex   sync.Mutex
	cache   []lidar.Sample
	err     error
	dropped int64

	cancel context.CancelFunc
	ctx    context.Context
	done   chan struct{}
}

func newScanPump(channel protocol.Channel, nodeLen int,
	parse func([]byte) (lidar.Sample, error), capacity int, logger *zap.Logger) *scanPump {

	ctx, cancel := context.WithCancel(context.Background())
	return &scanPump{
		channel:  channel,
		nodeLen:  nodeLen,
		parse:    parse,
		capacity: capacity,
		logger:   logger,
		cache:    make([]lidar.Sample, 0, capacity),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// run reads and parses nodes until stopped or the stream fails. It is the
// only reader of the channel while scanning.
func (p *scanPump) run() {
	defer close(p.done)

	pending := make([]byte, 0, p.nodeLen*64)
	for {
		chunk, err := p.channel.Read(p.ctx, p.nodeLen*64)
		if p.ctx.Err() != nil {
			p.fail(lidar.ErrStopped)
			return
		}
		if err != nil {
			p.fail(fmt.Errorf("%w: %v", lidar.ErrChannel, err))
			return
		}

		pending = append(pending, chunk...)
		for len(pending) >= p.nodeLen {
			sample, err := p.parse(pending[:p.nodeLen])
			if err != nil {
				p.fail(err)
				return
			}
			pending = pending[p.nodeLen:]
			p.push(sample)
		}
	}
}

// push appends one sample, evicting the oldest on overflow.
func (p *scanPump) push(sample lidar.Sample) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.cache) >= p.capacity {
		copy(p.cache, p.cache[1:])
		p.cache = p.cache[:len(p.cache)-1]
		p.dropped++
		if p.dropped%1000 == 1 {
			p.logger.Warn("Sample cache overflow, dropping oldest",
				zap.Int64("dropped_total", p.dropped),
			)
		}
	}
	p.cache = append(p.cache, sample)
}

// take moves up to len(buf) cached samples into buf, preserving arrival
// order. When the cache is empty it reports the terminal pump error, if any.
func (p *scanPump) take(buf []lidar.Sample) (int, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.cache) == 0 {
		return 0, p.err
	}

	n := copy(buf, p.cache)
	remaining := copy(p.cache, p.cache[n:])
	p.cache = p.cache[:remaining]
	return n, nil
}

// fail records the terminal error, keeping the first one.
func (p *scanPump) fail(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.err == nil {
		p.err = err
	}
}

// stop cancels the read loop and waits for it to exit.
func (p *scanPump) stop() {
	p.cancel()
	<-p.done
}
