package framework

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bitleak/lmstfy/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hnsync/pkg/lmstfyx"
	"hnsync/pkg/logger"
)

type fakeSource struct {
	mu      sync.Mutex
	pending []*Message
	acked   []string
	errs    int
}

func (f *fakeSource) Consume(queue string, timeout, _ time.Duration) (*Message, error) {
	f.mu.Lock()
	if f.errs > 0 {
		f.errs--
		f.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	if len(f.pending) == 0 {
		f.mu.Unlock()
		time.Sleep(timeout)
		return nil, nil
	}
	msg := f.pending[0]
	f.pending = f.pending[1:]
	f.mu.Unlock()
	msg.Queue = queue
	return msg, nil
}

func (f *fakeSource) Ack(_ string, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, jobID)
	return nil
}

func (f *fakeSource) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

func TestSubscriberProcessor_SettlesByAction(t *testing.T) {
	source := &fakeSource{
		errs: 1,
		pending: []*Message{
			{ID: "ok", Data: []byte("success")},
			{ID: "retry", Data: []byte("release")},
			{ID: "bad", Data: []byte("bury")},
		},
	}

	var mu sync.Mutex
	seen := map[string]bool{}
	proc := func(ctx context.Context, job *client.Job) *lmstfyx.JobResp {
		mu.Lock()
		seen[job.ID] = true
		mu.Unlock()
		switch string(job.Data) {
		case "release":
			return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusRelease}
		case "bury":
			return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury}
		default:
			return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusSuccess}
		}
	}

	log := logger.NewNop()
	inputChan := make(chan *Message, 4)
	sub := NewSubscriber(&SubscriberConfig{
		QueueName:    "hns_sync",
		Concurrency:  1,
		Timeout:      5 * time.Millisecond,
		Rate:         time.Millisecond,
		ErrorBackoff: time.Millisecond,
	}, source, log)
	processor := NewProcessor(&ProcessorConfig{Concurrency: 2, Timeout: time.Second}, source, proc, log)

	ctx := context.Background()
	processor.Start(ctx, inputChan)
	sub.Start(ctx, inputChan)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 2*time.Second, 5*time.Millisecond)

	sub.Stop()
	sub.Wait()
	processor.SignalShutdown()
	processor.Wait()

	assert.ElementsMatch(t, []string{"ok", "bad"}, source.ackedIDs())
}

func TestProcessor_DrainsBufferedMessages(t *testing.T) {
	source := &fakeSource{}
	var mu sync.Mutex
	count := 0
	proc := func(context.Context, *client.Job) *lmstfyx.JobResp {
		mu.Lock()
		count++
		mu.Unlock()
		return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusSuccess}
	}

	inputChan := make(chan *Message, 3)
	for _, id := range []string{"a", "b", "c"} {
		inputChan <- &Message{ID: id, Queue: "q"}
	}

	processor := NewProcessor(&ProcessorConfig{Concurrency: 1, Timeout: time.Second}, source, proc, logger.NewNop())
	processor.SignalShutdown()
	processor.Start(context.Background(), inputChan)
	processor.Wait()

	assert.Equal(t, 3, count)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, source.ackedIDs())
}

func TestProcessor_NilResponseIsReleased(t *testing.T) {
	source := &fakeSource{}
	processor := NewProcessor(&ProcessorConfig{Concurrency: 1, Timeout: time.Second}, source,
		func(context.Context, *client.Job) *lmstfyx.JobResp { return nil }, logger.NewNop())

	processor.process(context.Background(), &Message{ID: "x", Queue: "q"}, 0)
	assert.Empty(t, source.ackedIDs())
}

func TestSubscriber_SameKeyIsSerialized(t *testing.T) {
	source := &fakeSource{
		pending: []*Message{
			{ID: "first", Data: []byte("user-1")},
			{ID: "second", Data: []byte("user-1")},
			{ID: "other", Data: []byte("user-2")},
		},
	}

	gate := make(chan struct{})
	var mu sync.Mutex
	var started []string
	proc := func(ctx context.Context, job *client.Job) *lmstfyx.JobResp {
		mu.Lock()
		started = append(started, job.ID)
		mu.Unlock()
		if job.ID == "first" {
			<-gate
		}
		return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusSuccess}
	}
	startedIDs := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), started...)
	}

	log := logger.NewNop()
	inputChan := make(chan *Message, 4)
	sub := NewSubscriber(&SubscriberConfig{
		QueueName:    "hns_sync",
		Concurrency:  2,
		Timeout:      5 * time.Millisecond,
		Rate:         time.Millisecond,
		ErrorBackoff: time.Millisecond,
		KeyOf:        func(data []byte) string { return string(data) },
	}, source, log)
	processor := NewProcessor(&ProcessorConfig{Concurrency: 3, Timeout: time.Second}, source, proc, log)

	ctx := context.Background()
	processor.Start(ctx, inputChan)
	sub.Start(ctx, inputChan)

	require.Eventually(t, func() bool {
		ids := startedIDs()
		return len(ids) == 2 && ids[0] != "second" && ids[1] != "second"
	}, 2*time.Second, 5*time.Millisecond)

	// first 未结束前 second 不会开始
	time.Sleep(50 * time.Millisecond)
	assert.NotContains(t, startedIDs(), "second")

	close(gate)
	require.Eventually(t, func() bool { return len(source.ackedIDs()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "second", startedIDs()[2])

	sub.Stop()
	sub.Wait()
	processor.SignalShutdown()
	processor.Wait()
}

func TestInflight_AcquireHonoursContext(t *testing.T) {
	f := newInflight()
	require.True(t, f.acquire(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, f.acquire(ctx, "k"))

	f.release("k")
	assert.True(t, f.acquire(context.Background(), "k"))
	f.release("k")
	f.release("k")
}
