package cache

import "errors"

var (
	// ErrBackendUnavailable 缓存后端不可用。Get/Set 内部吸收，按未命中处理。
	ErrBackendUnavailable = errors.New("cache backend unavailable")
	// ErrComputeFailed compute 回调失败，传播给所有等待者，结果不缓存。
	ErrComputeFailed = errors.New("cache compute failed")
	// ErrComputeTimeout compute 超时，in-flight 标记已清除。
	ErrComputeTimeout = errors.New("cache compute timed out")
	// ErrSkipStore compute 返回它时，同时返回的值照常交给所有等待者，但不写入缓存。
	ErrSkipStore = errors.New("cache: skip store")
)
