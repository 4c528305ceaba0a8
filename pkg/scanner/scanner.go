package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"ubirescue/pkg/node"
)

// 扫描器对镜像内容不做任何假设：介质上是一条乱序追加的节点日志，
// 节点之间可能夹着擦除区、填充和损坏的字节。唯一的恢复手段是
// “单字节重同步”——在当前位置解不出合法节点头，就前进一个字节重试。
// 一个坏字节永远不能让整次扫描中止。

// ErrPartialScan 表示扫描被调用方取消
// 返回它的同时，Result 里带着取消前恢复到的所有节点。
var ErrPartialScan = errors.New("scan cancelled before reaching image end")

// Config 是扫描器的几何参数
// 两个尺寸都是配置输入，不从镜像里探测。
type Config struct {
	// MinIOSize 是最小 I/O 单位：接受一个节点后，偏移按它对齐前进。
	// UBIFS 节点在 LEB 内按 8 字节对齐，所以默认是 8。
	MinIOSize int

	// LebSize 是逻辑擦除块大小，仅记录在结果里供上层使用
	LebSize int
}

// withDefaults 补上零值配置
func (c Config) withDefaults() Config {
	if c.MinIOSize <= 0 {
		c.MinIOSize = 8
	}
	return c
}

// Accepted 是一个被接受的节点：绝对偏移 + 头 + 解码结果
type Accepted struct {
	Offset int64
	Header node.Header
	Node   node.Node

	// Truncated: 声明长度越过了镜像末尾，负载不完整
	Truncated bool
}

// Stats 是一次扫描的计数器
type Stats struct {
	ImageSize      int64
	BytesScanned   int64
	AcceptedCount  int
	CRCFailures    int // 头合法但校验不一致 (按损坏处理，单字节重试)
	DecodeFailures int // 节点信封合法但负载短于结构 (跳过该节点)
	TruncatedTail  bool
	Partial        bool // 被取消，结果不完整
}

// Result 是扫描产出：按物理顺序排列的接受节点
// 注意物理顺序和逻辑新旧无关，版本归并是 registry 的事。
type Result struct {
	Nodes []Accepted
	Stats Stats
}

// Scan 遍历 [0, size) 的字节，产出所有可接受的节点
//
// 接受条件：magic 匹配、声明长度 ≥ 头大小且不越界、校验字段 (若存在) 一致。
// 任一条件不满足就前进一个字节重试。取消信号每步轮询一次；
// 取消时返回 ErrPartialScan，Result 仍然有效。
func Scan(ctx context.Context, r io.ReaderAt, size int64, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	res := &Result{Stats: Stats{ImageSize: size}}

	hdrBuf := make([]byte, node.HeaderSize)
	offset := int64(0)

	for offset+node.HeaderSize <= size {
		// 协作式取消：每个扫描步轮询一次，超大/超慢的底层存储也能及时中断
		if err := ctx.Err(); err != nil {
			res.Stats.Partial = true
			res.Stats.BytesScanned = offset
			return res, fmt.Errorf("%w: %w", ErrPartialScan, err)
		}

		if _, err := r.ReadAt(hdrBuf, offset); err != nil {
			return res, fmt.Errorf("read header window at %#x: %w", offset, err)
		}

		hdr, err := node.ParseHeader(hdrBuf)
		if err != nil {
			// magic 不匹配或长度非法：单字节重同步
			offset++
			continue
		}

		if offset+int64(hdr.Len) > size {
			// 声明长度越过镜像末尾：按截断节点接受并打标，扫描到此为止
			acceptTruncated(res, r, hdr, offset, size)
			res.Stats.TruncatedTail = true
			break
		}

		raw := make([]byte, hdr.Len)
		if _, err := r.ReadAt(raw, offset); err != nil {
			return res, fmt.Errorf("read node at %#x: %w", offset, err)
		}

		if err := node.VerifyCRC(hdr, raw); err != nil {
			// 头部碰巧合法但内容损坏，同样单字节前进
			res.Stats.CRCFailures++
			offset++
			continue
		}

		decoded, err := node.Decode(hdr, offset, raw[node.HeaderSize:])
		if err != nil {
			// 信封没问题、结构太短：这一个节点失败，其余继续
			res.Stats.DecodeFailures++
			offset += advance(int64(hdr.Len), cfg.MinIOSize)
			continue
		}

		res.Nodes = append(res.Nodes, Accepted{Offset: offset, Header: hdr, Node: decoded})
		res.Stats.AcceptedCount++
		offset += advance(int64(hdr.Len), cfg.MinIOSize)
	}

	if offset > size {
		offset = size
	}
	res.Stats.BytesScanned = size
	return res, nil
}

// acceptTruncated 尽力解出镜像尾部的不完整节点
func acceptTruncated(res *Result, r io.ReaderAt, hdr node.Header, offset, size int64) {
	raw := make([]byte, size-offset)
	if _, err := r.ReadAt(raw, offset); err != nil {
		return
	}

	decoded, err := node.Decode(hdr, offset, raw[node.HeaderSize:])
	if err != nil {
		// 结构都解不出来就以 Opaque 形式保留，至少留下诊断证据
		decoded = &node.Opaque{
			Common:  node.Common{Hdr: hdr, Off: offset},
			RawType: uint8(hdr.NodeType),
			Payload: raw[node.HeaderSize:],
		}
	}
	res.Nodes = append(res.Nodes, Accepted{Offset: offset, Header: hdr, Node: decoded, Truncated: true})
	res.Stats.AcceptedCount++
}

// advance 把声明长度向上取整到最小 I/O 单位
func advance(n int64, align int) int64 {
	a := int64(align)
	if rem := n % a; rem != 0 {
		n += a - rem
	}
	return n
}

// ScanFile 打开镜像文件并完整扫描
// 打不开输入是整个恢复流程里唯一的致命错误。
func ScanFile(ctx context.Context, path string, cfg Config) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}

	return Scan(ctx, f, info.Size(), cfg)
}
