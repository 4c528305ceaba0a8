// pkg/types/common.go
package types

import "fmt"

// InodeNum 是 UBIFS 内部的 inode 编号
// 这是一个“值对象”，应当是不可变的。
type InodeNum uint64

func (n InodeNum) String() string { return fmt.Sprintf("%d", n) }

// RootInode 是文件系统根目录的固定 inode 编号 (UBIFS 约定)
const RootInode InodeNum = 1

// Sqnum 是节点的单调序列号
// 它定义了“逻辑上的新旧”，与节点在介质上的物理位置无关。
// 日志重放时，永远是更大的 Sqnum 获胜。
type Sqnum uint64

// Newer 判断 s 是否严格比 other 新
// 注意是“严格大于”：相等视为重复写入，不替换。
func (s Sqnum) Newer(other Sqnum) bool { return s > other }

// BlockIndex 是文件内数据块的序号 (block 0 = 文件开头的 4KiB)
type BlockIndex uint32

// BlockSize 是 UBIFS 数据节点承载的未压缩块大小上限
const BlockSize = 4096

// FragmentKey 唯一标识一个数据片段的逻辑位置
// 同一个 Key 出现多次时，按 Sqnum 决出权威版本。
type FragmentKey struct {
	Ino   InodeNum
	Block BlockIndex
}

// EntryKey 唯一标识一条目录项 (父目录 + 名字)
type EntryKey struct {
	Parent InodeNum
	Name   string
}

// -----------------------------------------------------------------------------
// 恢复状态 (Recovery Status)
// -----------------------------------------------------------------------------

// Status 是附着在恢复对象上的诊断标记位
// 这些都是 “Reported-but-not-fatal”：记录问题，但不中断恢复。
type Status uint8

const (
	// StatusOK 表示对象完整恢复
	StatusOK Status = 0

	// StatusDangling 表示目录项指向的 inode 在日志里找不到元数据
	// 这只是“证据缺失”，不能证明文件被删除。
	StatusDangling Status = 1 << iota

	// StatusCycleDetected 表示目录图出现环，该分支停止下降
	StatusCycleDetected

	// StatusPartiallyRecovered 表示声明大小内缺少数据块 (已用零填补)
	StatusPartiallyRecovered

	// StatusSizeMismatch 表示拼装出的长度与 inode 声明的大小不一致
	StatusSizeMismatch

	// StatusTruncatedNode 表示节点声明长度超出镜像末尾 (尾部被截断)
	StatusTruncatedNode

	// StatusWriteFailed 表示落盘时写入失败 (重试一次后仍失败)
	StatusWriteFailed
)

// Has 检查某个标记位是否被置上
func (s Status) Has(flag Status) bool { return s&flag != 0 }

// String 把标记位渲染成人类可读的列表，方便 report 输出
func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	names := []struct {
		flag Status
		name string
	}{
		{StatusDangling, "dangling"},
		{StatusCycleDetected, "cycle"},
		{StatusPartiallyRecovered, "partial"},
		{StatusSizeMismatch, "size-mismatch"},
		{StatusTruncatedNode, "truncated"},
		{StatusWriteFailed, "write-failed"},
	}
	out := ""
	for _, n := range names {
		if s.Has(n.flag) {
			if out != "" {
				out += ","
			}
			out += n.name
		}
	}
	return out
}
