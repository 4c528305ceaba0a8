package node

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"ubirescue/pkg/types"
)

// UBIFS 在介质上的常量
// 所有节点都以同一个 24 字节的公共头开始，小端序。
const (
	Magic      = 0x06101831 // UBIFS_NODE_MAGIC
	HeaderSize = 24         // 公共头大小
)

var (
	ErrBadMagic        = errors.New("bad node magic")
	ErrTruncatedHeader = errors.New("truncated node header")
	ErrBadLength       = errors.New("declared node length smaller than header")
	ErrBadCRC          = errors.New("node crc mismatch")
)

// Type 是公共头里的节点类型标签
type Type uint8

// 节点类型表 (与 UBIFS 源码一致的 12 个数值标识)
const (
	TypeInode       Type = 0  // INO_NODE: 文件/目录元数据
	TypeData        Type = 1  // DATA_NODE: 文件内容片段
	TypeDent        Type = 2  // DENT_NODE: 目录项 (名字 -> inode)
	TypeXent        Type = 3  // XENT_NODE: 扩展属性项
	TypeTrunc       Type = 4  // TRUN_NODE: 截断记录
	TypePad         Type = 5  // PAD_NODE: LEB 内的填充
	TypeSuperblock  Type = 6  // SB_NODE: 文件系统全局参数
	TypeMaster      Type = 7  // MST_NODE: 指向关键结构的主节点
	TypeRef         Type = 8  // REF_NODE: 日志引用
	TypeIndex       Type = 9  // IDX_NODE: 索引树节点
	TypeCommitStart Type = 10 // CS_NODE: 提交开始标记
	TypeOrphan      Type = 11 // ORPH_NODE: 孤儿 inode 列表

	// TypeOpaque 不在介质上出现：未识别的类型标签会被包装成 Opaque 节点，
	// 保留下来做诊断，而不是让整个恢复过程失败。
	TypeOpaque Type = 0xFF
)

var typeNames = map[Type]string{
	TypeInode:       "INO",
	TypeData:        "DATA",
	TypeDent:        "DENT",
	TypeXent:        "XENT",
	TypeTrunc:       "TRUN",
	TypePad:         "PAD",
	TypeSuperblock:  "SB",
	TypeMaster:      "MST",
	TypeRef:         "REF",
	TypeIndex:       "IDX",
	TypeCommitStart: "CS",
	TypeOrphan:      "ORPH",
	TypeOpaque:      "UNKNOWN",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TYPE(%d)", uint8(t))
}

// Known 报告类型标签是否是 12 个已识别标识之一
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok && t != TypeOpaque
}

// Header 是解码后的公共节点头
//
// 介质布局 (24 字节，小端)：
//
//	+0  magic      u32   0x06101831
//	+4  crc32      u32   覆盖 [8, len) 的校验和；0 表示“无校验字段”
//	+8  sqnum      u64   单调序列号
//	+16 len        u32   整个节点长度 (含公共头)
//	+20 node_type  u8
//	+21 group_type u8
//	+22 padding    2 字节
type Header struct {
	CRC       uint32
	Sqnum     types.Sqnum
	Len       uint32
	NodeType  Type
	GroupType uint8
}

// PayloadLen 返回公共头之后的负载长度
func (h Header) PayloadLen() int { return int(h.Len) - HeaderSize }

// ParseHeader 从 buf 的开头解出一个公共头
// 只做结构检查 (magic、长度下限)；CRC 校验由 Checksum/VerifyCRC 负责，
// 因为它需要整个节点的字节。
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrTruncatedHeader
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != Magic {
		return Header{}, ErrBadMagic
	}

	h := Header{
		CRC:       binary.LittleEndian.Uint32(buf[4:8]),
		Sqnum:     types.Sqnum(binary.LittleEndian.Uint64(buf[8:16])),
		Len:       binary.LittleEndian.Uint32(buf[16:20]),
		NodeType:  Type(buf[20]),
		GroupType: buf[21],
	}

	if h.Len < HeaderSize {
		return Header{}, fmt.Errorf("%w: len=%d", ErrBadLength, h.Len)
	}
	return h, nil
}

// Checksum 计算节点的校验和：crc32 覆盖第 8 字节到节点末尾
// (magic 和 crc 字段本身不参与)。
// 与内核的 crc32(0xFFFFFFFF, ...) 等价，即按位取反的 IEEE CRC-32 (JAMCRC)。
func Checksum(raw []byte) uint32 {
	if len(raw) <= 8 {
		return 0
	}
	return ^crc32.ChecksumIEEE(raw[8:])
}

// VerifyCRC 校验整个节点的原始字节
// crc 字段为 0 视为“校验字段不存在”(手工构造或被剥离的镜像)，直接放行。
func VerifyCRC(h Header, raw []byte) error {
	if h.CRC == 0 {
		return nil
	}
	if got := Checksum(raw); got != h.CRC {
		return fmt.Errorf("%w: want %#x got %#x", ErrBadCRC, h.CRC, got)
	}
	return nil
}
