package main

import (
	"io"
	"sync"

	"github.com/cheggaaa/pb/v3"

	"github.com/ricesearch/rice-clickmodels/internal/inference"
)

// progress draws one bar per model from the trainer's iteration hook.
type progress struct {
	w     io.Writer
	total int

	mu    sync.Mutex
	model string
	bar   *pb.ProgressBar
}

func newProgress(w io.Writer, maxIterations int) *progress {
	return &progress{w: w, total: maxIterations}
}

// iteration is the trainer hook.
func (p *progress) iteration(model string, it inference.Iteration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != model {
		p.finishLocked()
		p.model = model
		p.bar = pb.New(p.total).
			SetTemplate(pb.Simple).
			SetWriter(p.w).
			Set("prefix", model+" ").
			Start()
	}
	p.bar.SetCurrent(int64(it.N))
	p.bar.Set("suffix", " ll "+formatFloat(it.LogLikelihood))
}

// finish completes the current bar.
func (p *progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *progress) finishLocked() {
	if p.bar != nil {
		p.bar.SetCurrent(p.bar.Total())
		p.bar.Finish()
		p.bar = nil
	}
}
