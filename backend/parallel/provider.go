package parallel

import (
	"log/slog"
	"sync"

	"github.com/gogpu/subd"
	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/buffer"
	"github.com/gogpu/subd/patch"
	"github.com/gogpu/subd/stencil"
)

// init registers the parallel substrate on package import.
func init() {
	subd.RegisterBackend(&provider{})
}

// provider starts the shared worker pool on first use.
type provider struct {
	once sync.Once
	sub  subd.Substrate
	k    *Kernels

	mu     sync.Mutex
	logger *slog.Logger
}

func (*provider) Kind() backend.Kind { return backend.KindParallel }

func (p *provider) Substrate() (subd.Substrate, error) {
	p.once.Do(func() {
		p.k = New()
		p.sub = subd.Bind[*buffer.Host, *stencil.Table, *patch.Table](p.k)
		p.log().Debug("parallel: worker pool started", "workers", p.k.Workers())
	})
	return p.sub, nil
}

func (p *provider) SetLogger(l *slog.Logger) {
	p.mu.Lock()
	p.logger = l
	p.mu.Unlock()
}

func (p *provider) log() *slog.Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.logger == nil {
		return subd.Logger()
	}
	return p.logger
}
