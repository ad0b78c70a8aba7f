package safe

import (
	"go.uber.org/zap"

	"github.com/xiaolan20020118-create/Project-Roza/logger"
)

// Go 启动带 panic 保护的 goroutine，后台任务崩溃不拖垮进程。
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panic recovered", zap.Any("error", r))
			}
		}()
		f()
	}()
}
