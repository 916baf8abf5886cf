package transcription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
)

const (
	DefaultBatchSize = 8
	DefaultBatchWait = 5 * time.Second
)

type batchResult struct {
	transcript Transcript
	err        error
}

type batchItem struct {
	audio  []byte
	result chan batchResult
}

// Batcher holds low-priority calls until size items are queued or wait
// has elapsed since the first one, then sends them together.
type Batcher struct {
	provider Provider
	size     int
	wait     time.Duration
	logger   apt.Logger

	mu      sync.Mutex
	pending []*batchItem
	timer   *time.Timer
	// gen identifies the pending batch. A timer that fires for an older
	// generation finds its batch already gone and does nothing.
	gen     uint64
	flushes int
	wg      sync.WaitGroup
}

func NewBatcher(provider Provider, size int, wait time.Duration, logger apt.Logger) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if wait <= 0 {
		wait = DefaultBatchWait
	}
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Batcher{
		provider: provider,
		size:     size,
		wait:     wait,
		logger:   logger,
	}
}

// Submit queues audio for the next flush. A request cancelled before its
// batch is sent is removed and returns the context error; once sent, the
// result is awaited so the spend is accounted for.
func (b *Batcher) Submit(ctx context.Context, audio []byte) (Transcript, error) {
	item := &batchItem{audio: audio, result: make(chan batchResult, 1)}

	b.mu.Lock()
	b.pending = append(b.pending, item)
	switch {
	case len(b.pending) >= b.size:
		b.flushLocked()
	case len(b.pending) == 1:
		gen := b.gen
		b.timer = time.AfterFunc(b.wait, func() { b.flushOnTimer(gen) })
	}
	b.mu.Unlock()

	select {
	case res := <-item.result:
		return res.transcript, res.err
	case <-ctx.Done():
		if b.remove(item) {
			return Transcript{}, ctx.Err()
		}
		res := <-item.result
		return res.transcript, res.err
	}
}

// Pending returns how many requests wait for a flush.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher) Flushes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes
}

// Close flushes whatever is queued and waits for in-flight batches.
func (b *Batcher) Close() {
	b.mu.Lock()
	if len(b.pending) > 0 {
		b.flushLocked()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Batcher) remove(item *batchItem) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, p := range b.pending {
		if p != item {
			continue
		}
		b.pending = append(b.pending[:i], b.pending[i+1:]...)
		if len(b.pending) == 0 {
			b.disarmLocked()
		}
		return true
	}
	return false
}

func (b *Batcher) flushOnTimer(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen || len(b.pending) == 0 {
		return
	}
	b.flushLocked()
}

// disarmLocked stops the wait timer and retires the current generation.
func (b *Batcher) disarmLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
}

func (b *Batcher) flushLocked() {
	b.disarmLocked()
	batch := b.pending
	b.pending = nil
	b.flushes++

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.send(batch)
	}()
}

// send runs detached from any caller's context: a sent batch is billed
// whether or not its callers are still waiting.
func (b *Batcher) send(batch []*batchItem) {
	ctx := context.Background()
	b.logger.Debug("flushing transcription batch", "size", len(batch))

	if bt, ok := b.provider.(BatchTranscriber); ok && len(batch) > 1 {
		audio := make([][]byte, len(batch))
		for i, item := range batch {
			audio[i] = item.audio
		}
		results, err := bt.TranscribeBatch(ctx, audio)
		if err == nil && len(results) != len(batch) {
			err = fmt.Errorf("batch returned %d transcripts for %d recordings", len(results), len(batch))
		}
		for i, item := range batch {
			if err != nil {
				item.result <- batchResult{err: err}
				continue
			}
			item.result <- batchResult{transcript: results[i]}
		}
		return
	}

	for _, item := range batch {
		tr, err := b.provider.Transcribe(ctx, item.audio)
		item.result <- batchResult{transcript: tr, err: err}
	}
}
