package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotEmpty: 输出根已有内容且调用方没有要求重建
	// 物化必须幂等：要么拒绝静默覆盖，要么确定性地清空重来，二选一。
	ErrNotEmpty = errors.New("destination not empty (use force to reset)")
)

// Destination 是物化输出的抽象
// 默认实现是本地磁盘；取证流水线也可以把恢复出的树直接送进 S3。
type Destination interface {
	// Prepare 初始化输出根
	// force 为 false 时，非空的目标必须返回 ErrNotEmpty；
	// force 为 true 时，确定性地清空并重建。
	Prepare(ctx context.Context, force bool) error

	// MkdirAll 创建目录 (含全部父级)；path 是相对输出根的斜杠路径
	MkdirAll(ctx context.Context, path string) error

	// WriteFile 写出一个文件及其幸存的元数据
	WriteFile(ctx context.Context, path string, content []byte, mode uint32, mtime time.Time) error

	// Symlink 写出一个符号链接
	Symlink(ctx context.Context, path, target string) error

	// Link 为已物化的内容追加一条硬链接绑定
	// 底层没有链接原语的实现 (如对象存储) 允许退化为复制。
	Link(ctx context.Context, path, existing string) error

	// PutManifest 在输出根旁放置恢复清单等附属产物
	PutManifest(ctx context.Context, name string, data []byte) error
}
