// Package groupby implements the Group-by processor node: partitions input
// series by a tag-key set and reduces each partition per tick with a
// configured aggregator (spec.md §4.5). Array-typed inputs may opt into a
// parallel accumulation mode over a bounded worker pool with a size-prioritized
// admission queue (spec.md §5's "Pool sizing").
package groupby

import (
	"container/heap"
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tsqueng/coreengine/internal/aggregate"
	"github.com/tsqueng/coreengine/internal/nodes"
	"github.com/tsqueng/coreengine/internal/pipeline"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

func init() {
	pipeline.Register("groupby", func(cfg pipeline.NodeConfig) (pipeline.Node, error) {
		c, err := configFromOptions(cfg.Options)
		if err != nil {
			return nil, err
		}
		return &Node{Base: nodes.Base{NodeID: cfg.ID}, cfg: c}, nil
	})
}

// Config configures a Group-by Node.
type Config struct {
	TagKeys          []string // empty set -> single group across all input
	Aggregator       string
	ProcessInParallel bool
	ThreadCount       int
	TimeSeriesPerJob  int
	QueueThreshold    int
}

func configFromOptions(opts map[string]interface{}) (Config, error) {
	c := Config{Aggregator: "sum", ThreadCount: 4, TimeSeriesPerJob: 16, QueueThreshold: 256}
	if opts == nil {
		return c, nil
	}
	if v, ok := opts["tag_keys"].([]interface{}); ok {
		for _, t := range v {
			if s, ok := t.(string); ok {
				c.TagKeys = append(c.TagKeys, s)
			}
		}
	}
	if v, ok := opts["aggregator"].(string); ok {
		c.Aggregator = v
	}
	if v, ok := opts["process_in_parallel"].(bool); ok {
		c.ProcessInParallel = v
	}
	if v, ok := opts["thread_count"].(float64); ok {
		c.ThreadCount = int(v)
	}
	if v, ok := opts["time_series_per_job"].(float64); ok {
		c.TimeSeriesPerJob = int(v)
	}
	if v, ok := opts["queue_threshold"].(float64); ok {
		c.QueueThreshold = int(v)
	}
	return c, nil
}

// Node is the Group-by processor.
type Node struct {
	nodes.Base
	cfg Config
}

func (n *Node) Initialize(ctx context.Context) error { return nil }

func (n *Node) OnNext(ctx context.Context, res tsdata.Result) error {
	agg, err := aggregate.Lookup(n.cfg.Aggregator)
	if err != nil {
		return err
	}
	grouped, err := Group(ctx, res.Series, n.cfg, agg)
	if err != nil {
		n.Base.OnError(ctx, err)
		return err
	}
	out := res
	out.Series = grouped
	return n.Forward(ctx, out)
}

func (n *Node) OnPartial(ctx context.Context, set tsdata.PartialTimeSeriesSet) error {
	return n.ForwardPartial(ctx, set)
}

// groupKey builds the partition key from a series's tags restricted to
// cfg.TagKeys, sorted for determinism; an empty TagKeys set maps every
// series to one group (scenario D of spec.md §8).
func groupKey(tags map[string]string, keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+tags[k])
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// Group partitions series into buckets keyed by groupKey and reduces each
// bucket, tick by tick, with agg. When cfg.ProcessInParallel is set, buckets
// are batched into jobs of up to cfg.TimeSeriesPerJob series each and
// dispatched across a worker pool of cfg.ThreadCount
// (golang.org/x/sync/errgroup) through a bounded, size-prioritized admission
// queue of depth cfg.QueueThreshold, honoring the exactly-one-error
// semantics of spec.md §4.5: the first worker fault is returned, later
// faults discarded.
func Group(ctx context.Context, series []tsdata.Series, cfg Config, agg aggregate.Func) ([]tsdata.Series, error) {
	buckets := make(map[string][]tsdata.Series)
	var order []string
	for _, s := range series {
		k := groupKey(s.Tags, cfg.TagKeys)
		if _, ok := buckets[k]; !ok {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], s)
	}

	out := make([]tsdata.Series, len(order))
	if !cfg.ProcessInParallel {
		for i, k := range order {
			out[i] = reduceBucket(k, buckets[k], agg)
		}
		return out, nil
	}

	threads := cfg.ThreadCount
	if threads < 1 {
		threads = 1
	}
	batchSize := cfg.TimeSeriesPerJob
	if batchSize < 1 {
		batchSize = 1
	}
	queueDepth := cfg.QueueThreshold
	if queueDepth < 1 {
		queueDepth = 1
	}

	jobs := batchGroups(order, buckets, batchSize)
	queue := newJobQueue(queueDepth)

	var feed sync.WaitGroup
	feed.Add(1)
	go func() {
		defer feed.Done()
		for _, j := range jobs {
			queue.Push(j)
		}
		queue.Close()
	}()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for i := 0; i < threads; i++ {
		g.Go(func() error {
			for {
				j, ok := queue.Pop()
				if !ok {
					return nil
				}
				for _, item := range j.items {
					out[item.index] = reduceBucket(item.key, buckets[item.key], agg)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	feed.Wait()
	return out, nil
}

// jobItem locates one group's reduced output slot in Group's out slice.
type jobItem struct {
	index int
	key   string
}

// job is one batch of groups dispatched to a worker. size is the batch's
// total series count, the admission queue's preemption key.
type job struct {
	items []jobItem
	size  int
}

// batchGroups packs order's groups into jobs of roughly batchSize series
// each (spec.md §5's "per-job series batch"): a job accumulates groups
// until its running series total reaches batchSize, then closes, so a
// handful of large groups and a long tail of singleton groups both end up
// as a small number of worker-sized jobs instead of one goroutine per
// group.
func batchGroups(order []string, buckets map[string][]tsdata.Series, batchSize int) []job {
	var jobs []job
	var cur job
	for i, k := range order {
		cur.items = append(cur.items, jobItem{index: i, key: k})
		cur.size += len(buckets[k])
		if cur.size >= batchSize {
			jobs = append(jobs, cur)
			cur = job{}
		}
	}
	if len(cur.items) > 0 {
		jobs = append(jobs, cur)
	}
	return jobs
}

// jobQueue is the bounded admission queue of spec.md §5's "Pool sizing":
// Push blocks once the queue holds cfg.QueueThreshold jobs until a Pop
// frees a slot, and Pop always returns the largest queued job first (a
// max-heap keyed on job.size) so a big batch is never stuck behind a run
// of tiny ones — the "large batches may preempt small ones" admission
// policy.
type jobQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    jobHeap
	capacity int
	closed   bool
}

func newJobQueue(capacity int) *jobQueue {
	q := &jobQueue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *jobQueue) Push(j job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) >= q.capacity && !q.closed {
		q.cond.Wait()
	}
	heap.Push(&q.items, j)
	q.cond.Broadcast()
}

// Pop blocks until a job is available or the queue is closed and drained,
// in which case it returns (job{}, false).
func (q *jobQueue) Pop() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return job{}, false
	}
	j := heap.Pop(&q.items).(job)
	q.cond.Broadcast()
	return j, true
}

// Close marks the queue closed: Push stops blocking callers (there are
// none left once the feeder calls Close) and Pop returns false once the
// remaining queued jobs are drained.
func (q *jobQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

type jobHeap []job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].size > h[j].size }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(job)) }

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func reduceBucket(key string, members []tsdata.Series, agg aggregate.Func) tsdata.Series {
	byTS := make(map[int64][]float64)
	var order []int64
	for _, s := range members {
		for _, p := range s.Points {
			if _, ok := byTS[p.Timestamp]; !ok {
				order = append(order, p.Timestamp)
			}
			if !p.Value.IsNaN() {
				byTS[p.Timestamp] = append(byTS[p.Timestamp], float64(p.Value))
			}
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	points := make([]tsdata.Point, len(order))
	for i, ts := range order {
		points[i] = tsdata.Point{Timestamp: ts, Value: tsdata.Float(agg(byTS[ts]))}
	}
	return tsdata.Series{ID: tsdata.ID{Label: key}, Kind: tsdata.ValueScalar, Points: points}
}
