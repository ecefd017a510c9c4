// Package concurrency runs independent work items on a bounded worker pool.
package concurrency

import (
	"context"
	"sync"
)

// ParallelOptions configura el comportamiento del procesamiento paralelo
type ParallelOptions struct {
	// MaxWorkers es el número máximo de trabajadores en paralelo
	MaxWorkers int
}

// DefaultOptions devuelve opciones predeterminadas para procesamiento paralelo
func DefaultOptions() ParallelOptions {
	return ParallelOptions{
		MaxWorkers: 4,
	}
}

// ProcessParallel procesa elementos en paralelo usando la función de trabajo proporcionada.
// Devuelve los resultados y los errores en el mismo orden que los elementos de entrada:
// errs[i] corresponde a items[i] (nil si no hubo error).
//
// Una vez cancelado ctx no se arranca ningún elemento nuevo; los pendientes
// reciben ctx.Err() como error y el valor cero como resultado.
func ProcessParallel[T any, R any](
	ctx context.Context,
	items []T,
	opts ParallelOptions,
	itemFunc func(ctx context.Context, index int, item T) (R, error),
) ([]R, []error) {
	if len(items) == 0 {
		return []R{}, []error{}
	}

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultOptions().MaxWorkers
	}
	maxWorkers = min(maxWorkers, len(items))

	results := make([]R, len(items))
	errs := make([]error, len(items))

	jobs := make(chan int, len(items))
	for i := range items {
		jobs <- i
	}
	close(jobs)

	// Cada índice lo escribe un único trabajador, así que no hace falta mutex.
	var wg sync.WaitGroup
	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				results[i], errs[i] = itemFunc(ctx, i, items[i])
			}
		}()
	}
	wg.Wait()

	return results, errs
}
