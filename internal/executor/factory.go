package executor

import (
	"fmt"

	"go.uber.org/zap"
)

// New 按类型创建执行器。
func New(kind Kind, cfg Config, logger *zap.Logger) (Executor, error) {
	switch kind {
	case KindOrder:
		return NewOrderExecutor(cfg, logger)
	case KindDCA:
		return NewDCAExecutor(cfg, logger)
	case KindTWAP:
		return NewTWAPExecutor(cfg, logger)
	case KindGrid:
		return NewGridExecutor(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: 未知执行器类型 %q", ErrInvalidConfig, kind)
	}
}
