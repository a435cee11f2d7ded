package supervisor

import "context"

// Func adapts a blocking function to a supervised service.
type Func struct {
	Name string
	Run  func(ctx context.Context) error
}

func (f Func) Serve(ctx context.Context) error {
	return f.Run(ctx)
}

func (f Func) String() string {
	return f.Name
}

// Blocking wraps a function that runs until stop is closed, such as the
// config watcher.
func Blocking(name string, run func(stop <-chan struct{})) Func {
	return Func{Name: name, Run: func(ctx context.Context) error {
		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			run(stop)
		}()
		<-ctx.Done()
		close(stop)
		<-done
		return ctx.Err()
	}}
}
