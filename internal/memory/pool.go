package memory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EmbedRequest is one batch of texts to embed
type EmbedRequest struct {
	ID       string
	Texts    []string
	Callback func(*EmbedResult) // Called when completed
	Context  context.Context
}

// EmbedResult holds the outcome of one batch
type EmbedResult struct {
	Embeddings [][]float32
	Latency    time.Duration
	Error      error
}

// Pool manages workers for concurrent embedding batches during ingestion
type Pool struct {
	embedder  EmbeddingGenerator
	workers   int
	batchSize int
	queue     chan *EmbedRequest
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	semaphore chan struct{} // Limits concurrent calls to the embedding API
	metrics   *PoolMetrics
}

// PoolMetrics tracks pool performance
type PoolMetrics struct {
	TotalBatches    int64
	CompletedOK     int64
	CompletedError  int64
	TotalTexts      int64
	AverageLatency  time.Duration
	TotalLatency    time.Duration
	CurrentInflight int
	mu              sync.RWMutex
}

// NewPool creates an embedding pool sized from config
func NewPool(embedder EmbeddingGenerator, config *Config) *Pool {
	if config == nil {
		config = DefaultConfig()
	}
	workers := max(1, config.Workers)

	ctx, cancel := context.WithCancel(context.Background())
	pool := &Pool{
		embedder:  embedder,
		workers:   workers,
		batchSize: max(1, config.BatchSize),
		queue:     make(chan *EmbedRequest, workers*4),
		ctx:       ctx,
		cancel:    cancel,
		semaphore: make(chan struct{}, workers),
		metrics:   &PoolMetrics{},
	}

	for i := 0; i < pool.workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}
	return pool
}

// worker processes requests from the queue
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case req, ok := <-p.queue:
			if !ok {
				return
			}
			p.processRequest(req)
		}
	}
}

// processRequest embeds a single batch
func (p *Pool) processRequest(req *EmbedRequest) {
	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-req.Context.Done():
		if req.Callback != nil {
			req.Callback(&EmbedResult{Error: req.Context.Err()})
		}
		return
	}

	p.metrics.mu.Lock()
	p.metrics.CurrentInflight++
	p.metrics.mu.Unlock()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.CurrentInflight--
		p.metrics.mu.Unlock()
	}()

	start := time.Now()
	embeddings, err := p.embedder.GenerateBatch(req.Context, req.Texts)
	result := &EmbedResult{Embeddings: embeddings, Error: err, Latency: time.Since(start)}

	p.updateMetrics(result.Latency, len(req.Texts), err == nil)

	if req.Callback != nil {
		req.Callback(result)
	}
}

// updateMetrics updates pool metrics
func (p *Pool) updateMetrics(latency time.Duration, texts int, success bool) {
	p.metrics.mu.Lock()
	defer p.metrics.mu.Unlock()

	p.metrics.TotalBatches++
	p.metrics.TotalTexts += int64(texts)
	if success {
		p.metrics.CompletedOK++
	} else {
		p.metrics.CompletedError++
	}

	p.metrics.TotalLatency += latency
	if p.metrics.CompletedOK > 0 {
		p.metrics.AverageLatency = p.metrics.TotalLatency / time.Duration(p.metrics.CompletedOK)
	}
}

// Submit queues a request, blocking until there is room or ctx is done
func (p *Pool) Submit(req *EmbedRequest) error {
	if req.Context == nil {
		req.Context = p.ctx
	}
	if p.ctx.Err() != nil {
		return fmt.Errorf("pool is shut down")
	}

	select {
	case p.queue <- req:
		return nil
	case <-req.Context.Done():
		return req.Context.Err()
	case <-p.ctx.Done():
		return fmt.Errorf("pool is shut down")
	}
}

// EmbedAll embeds texts in batches across the workers and returns vectors in input order
func (p *Pool) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([][]float32, len(texts))
	batches := (len(texts) + p.batchSize - 1) / p.batchSize
	results := make(chan error, batches)

	for b := 0; b < batches; b++ {
		start := b * p.batchSize
		end := min(start+p.batchSize, len(texts))

		req := &EmbedRequest{
			ID:      fmt.Sprintf("batch-%d", b),
			Texts:   texts[start:end],
			Context: ctx,
			Callback: func(r *EmbedResult) {
				if r.Error == nil && len(r.Embeddings) != end-start {
					r.Error = fmt.Errorf("expected %d embeddings, got %d", end-start, len(r.Embeddings))
				}
				if r.Error == nil {
					copy(out[start:end], r.Embeddings)
				}
				results <- r.Error
			},
		}
		if err := p.Submit(req); err != nil {
			return nil, err
		}
	}

	for b := 0; b < batches; b++ {
		select {
		case err := <-results:
			if err != nil {
				return nil, fmt.Errorf("failed to embed batch: %w", err)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// GetMetrics returns current pool metrics
func (p *Pool) GetMetrics() PoolMetrics {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	return PoolMetrics{
		TotalBatches:    p.metrics.TotalBatches,
		CompletedOK:     p.metrics.CompletedOK,
		CompletedError:  p.metrics.CompletedError,
		TotalTexts:      p.metrics.TotalTexts,
		AverageLatency:  p.metrics.AverageLatency,
		TotalLatency:    p.metrics.TotalLatency,
		CurrentInflight: p.metrics.CurrentInflight,
	}
}

// Shutdown stops the workers, waiting up to timeout for in-flight batches
func (p *Pool) Shutdown(timeout time.Duration) error {
	close(p.queue)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("shutdown timeout exceeded")
	}
}
