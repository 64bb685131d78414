package subd

// Option configures an Evaluator during creation.
//
// Example:
//
//	cache := subd.NewCache(backend.KindParallel)
//	ev, err := subd.New(topology, backend.KindParallel,
//	    subd.WithCache(cache),
//	    subd.WithStagingCapacity(64*64),
//	)
type Option func(*options)

type options struct {
	cache           *EvaluatorCache
	observer        Observer
	stagingCapacity int
}

func defaultOptions() options {
	return options{observer: nopObserver{}}
}

// WithCache shares compiled kernel state through c. A nil cache is
// ignored. The cache must have been created for the evaluator's backend
// kind and must outlive the evaluator.
func WithCache(c *EvaluatorCache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithObserver reports refine and evaluation timings, staging growth and
// cache lookups to obs. See the metrics package for a Prometheus
// implementation.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithStagingCapacity reserves room for n coordinates in every staging
// arena, so batches up to n never grow one. Smaller values keep the
// default inline capacity.
func WithStagingCapacity(n int) Option {
	return func(o *options) {
		o.stagingCapacity = n
	}
}
