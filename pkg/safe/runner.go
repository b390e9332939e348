package safe

import (
	"context"
	"fmt"
	"runtime/debug"

	"beaconoracle.com/pkg/logger"
	"go.uber.org/zap"
)

// Run calls fn on the current goroutine and turns a panic into an error.
func Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "🚨 PANIC RECOVERED",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
