package processing

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Processor transforms image bytes into processed image bytes. The real
// background-removal model lives behind this interface; any error it returns
// is recorded as the task's failure cause.
type Processor interface {
	Process(ctx context.Context, data []byte) ([]byte, error)
}

// Func adapts a plain function to the Processor interface.
type Func func(ctx context.Context, data []byte) ([]byte, error)

func (f Func) Process(ctx context.Context, data []byte) ([]byte, error) {
	return f(ctx, data)
}

var (
	defaultOnce sync.Once
	defaultProc Processor

	watermarkOnce sync.Once
	watermarkProc Processor
)

// Default returns the process-wide background-removal handle, initialized
// once on first use. Model-backed implementations are expensive to
// construct, so the handle is never re-initialized per task.
func Default() Processor {
	defaultOnce.Do(func() {
		defaultProc = NewPNGNormalizer()
	})
	return defaultProc
}

// DefaultWatermark returns the process-wide watermark-removal handle. The
// inpainting model sits behind the Processor interface like the matting
// model does; without one configured the built-in normalizer stands in.
func DefaultWatermark() Processor {
	watermarkOnce.Do(func() {
		watermarkProc = NewPNGNormalizer()
	})
	return watermarkProc
}

// WithTimeout bounds each Process call. An invocation exceeding the ceiling
// is reported as a failed outcome with a timeout cause; the underlying call
// is left to finish on its own since the model API offers no cancellation.
func WithTimeout(p Processor, ceiling time.Duration) Processor {
	if ceiling <= 0 {
		return p
	}
	return Func(func(ctx context.Context, data []byte) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, ceiling)
		defer cancel()

		type result struct {
			data []byte
			err  error
		}
		done := make(chan result, 1)
		go func() {
			out, err := p.Process(ctx, data)
			done <- result{out, err}
		}()

		select {
		case r := <-done:
			return r.data, r.err
		case <-ctx.Done():
			return nil, fmt.Errorf("processing timed out after %s", ceiling)
		}
	})
}
