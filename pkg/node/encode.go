package node

import (
	"bytes"
	"encoding/binary"

	"ubirescue/pkg/types"
)

// 本文件是解码器的镜像：把逻辑节点编码回位精确的介质字节。
// 用途是测试固件和 `ubr fixture`（生成可扫描的微型镜像做冒烟验证），
// 不是镜像制作工具——mkfs/UBI 编排仍然是外部协作方的事。

// key 类型 (key 区第二个字的高 3 位)
const (
	keyTypeIno  = 0
	keyTypeData = 1
	keyTypeDent = 2
)

// seal 拼好公共头 + 负载，并填入校验和
func seal(t Type, sq types.Sqnum, payload []byte) []byte {
	raw := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(raw[0:4], Magic)
	binary.LittleEndian.PutUint64(raw[8:16], uint64(sq))
	binary.LittleEndian.PutUint32(raw[16:20], uint32(len(raw)))
	raw[20] = uint8(t)
	copy(raw[HeaderSize:], payload)
	binary.LittleEndian.PutUint32(raw[4:8], Checksum(raw))
	return raw
}

func putKey(p []byte, ino types.InodeNum, keyType uint32, value uint32) {
	binary.LittleEndian.PutUint32(p[0:4], uint32(ino))
	binary.LittleEndian.PutUint32(p[4:8], keyType<<29|value&keyValueMask)
}

// NameHash 是 UBIFS 的 r5 目录项哈希，dent key 的第二个字用它
func NameHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		c := uint32(name[i])
		h = (h + (c << 4) + (c >> 4)) * 11
	}
	return h & keyValueMask
}

// InodeSpec 描述一个要编码的 inode
type InodeSpec struct {
	Ino   types.InodeNum
	Mode  uint32
	Size  uint64
	Nlink uint32
	UID   uint32
	GID   uint32
	Mtime uint64
	Data  []byte // 内联数据 (符号链接目标)
}

// RawInode 编码一个完整格式的 INO_NODE
func RawInode(sq types.Sqnum, spec InodeSpec) []byte {
	p := make([]byte, inoDataOff+len(spec.Data))
	putKey(p, spec.Ino, keyTypeIno, 0)
	binary.LittleEndian.PutUint64(p[24:32], spec.Size)
	binary.LittleEndian.PutUint64(p[32:40], spec.Mtime) // atime
	binary.LittleEndian.PutUint64(p[40:48], spec.Mtime) // ctime
	binary.LittleEndian.PutUint64(p[48:56], spec.Mtime)
	binary.LittleEndian.PutUint32(p[68:72], spec.Nlink)
	binary.LittleEndian.PutUint32(p[72:76], spec.UID)
	binary.LittleEndian.PutUint32(p[76:80], spec.GID)
	binary.LittleEndian.PutUint32(p[80:84], spec.Mode)
	binary.LittleEndian.PutUint32(p[88:92], uint32(len(spec.Data)))
	binary.LittleEndian.PutUint16(p[108:110], ComprNone)
	copy(p[inoDataOff:], spec.Data)
	return seal(TypeInode, sq, p)
}

// RawData 编码一个 DATA_NODE 片段
func RawData(sq types.Sqnum, ino types.InodeNum, block types.BlockIndex, payload []byte) []byte {
	p := make([]byte, dataDataOff+len(payload))
	putKey(p, ino, keyTypeData, uint32(block))
	binary.LittleEndian.PutUint32(p[16:20], uint32(len(payload)))
	binary.LittleEndian.PutUint16(p[20:22], ComprNone)
	copy(p[dataDataOff:], payload)
	return seal(TypeData, sq, p)
}

// RawDent 编码一条目录项
func RawDent(sq types.Sqnum, parent types.InodeNum, name string, child types.InodeNum, etype uint8) []byte {
	p := make([]byte, dentFixedLen+len(name))
	putKey(p, parent, keyTypeDent, NameHash(name))
	binary.LittleEndian.PutUint64(p[16:24], uint64(child))
	p[25] = etype
	binary.LittleEndian.PutUint16(p[26:28], uint16(len(name)))
	copy(p[dentFixedLen:], name)
	return seal(TypeDent, sq, p)
}

// RawTrunc 编码一条截断记录
func RawTrunc(sq types.Sqnum, ino types.InodeNum, oldSize, newSize uint64) []byte {
	p := make([]byte, truncLen)
	binary.LittleEndian.PutUint32(p[0:4], uint32(ino))
	binary.LittleEndian.PutUint64(p[16:24], oldSize)
	binary.LittleEndian.PutUint64(p[24:32], newSize)
	return seal(TypeTrunc, sq, p)
}

// RawPad 编码一个总长 total 字节的填充节点 (含公共头)
func RawPad(sq types.Sqnum, total int) []byte {
	if total < HeaderSize+padMin {
		total = HeaderSize + padMin
	}
	p := make([]byte, total-HeaderSize)
	binary.LittleEndian.PutUint32(p[0:4], uint32(total-HeaderSize-padMin))
	return seal(TypePad, sq, p)
}

// RawSuperblock 编码一个最小可解的超级块
func RawSuperblock(sq types.Sqnum, minIOSize, lebSize, lebCnt uint32) []byte {
	p := make([]byte, sbMin)
	binary.LittleEndian.PutUint32(p[8:12], minIOSize)
	binary.LittleEndian.PutUint32(p[12:16], lebSize)
	binary.LittleEndian.PutUint32(p[16:20], lebCnt)
	binary.LittleEndian.PutUint32(p[20:24], lebCnt)
	binary.LittleEndian.PutUint32(p[56:60], 5) // fmt_version
	binary.LittleEndian.PutUint16(p[60:62], ComprNone)
	return seal(TypeSuperblock, sq, p)
}

// RawMaster 编码一个主节点
func RawMaster(sq types.Sqnum, highestInum uint64) []byte {
	p := make([]byte, mstMin)
	binary.LittleEndian.PutUint64(p[0:8], highestInum)
	binary.LittleEndian.PutUint64(p[8:16], 1) // cmt_no
	return seal(TypeMaster, sq, p)
}

// RawCommitStart 编码提交起始标记
func RawCommitStart(sq types.Sqnum, cmtNo uint64) []byte {
	p := make([]byte, csLen)
	binary.LittleEndian.PutUint64(p[0:8], cmtNo)
	return seal(TypeCommitStart, sq, p)
}

// RawOrphan 编码孤儿列表
func RawOrphan(sq types.Sqnum, cmtNo uint64, inos ...types.InodeNum) []byte {
	p := make([]byte, orphMin+8*len(inos))
	binary.LittleEndian.PutUint64(p[0:8], cmtNo)
	for i, ino := range inos {
		binary.LittleEndian.PutUint64(p[8+8*i:16+8*i], uint64(ino))
	}
	return seal(TypeOrphan, sq, p)
}

// -----------------------------------------------------------------------------
// ImageBuilder: 把节点串成一块可扫描的合成镜像
// -----------------------------------------------------------------------------

// ImageBuilder 按最小 I/O 单位对齐地拼接节点字节
// 节点之间的空隙用 0xFF 填充，和擦除后的闪存一样。
type ImageBuilder struct {
	buf   bytes.Buffer
	align int
}

// NewImageBuilder 创建构建器；align 是最小 I/O 单位 (0 或 1 表示不对齐)
func NewImageBuilder(align int) *ImageBuilder {
	if align <= 0 {
		align = 1
	}
	return &ImageBuilder{align: align}
}

// Add 追加一个节点，并把写入位置推进到下一个对齐边界
func (b *ImageBuilder) Add(raw []byte) *ImageBuilder {
	b.buf.Write(raw)
	b.pad()
	return b
}

// Garbage 追加任意垃圾字节 (测试扫描器的单字节重同步)
func (b *ImageBuilder) Garbage(junk []byte) *ImageBuilder {
	b.buf.Write(junk)
	return b
}

// Erased 追加 n 字节的 0xFF (被擦除的区域)
func (b *ImageBuilder) Erased(n int) *ImageBuilder {
	for i := 0; i < n; i++ {
		b.buf.WriteByte(0xFF)
	}
	return b
}

func (b *ImageBuilder) pad() {
	for b.buf.Len()%b.align != 0 {
		b.buf.WriteByte(0xFF)
	}
}

// Bytes 返回拼好的镜像内容
func (b *ImageBuilder) Bytes() []byte { return b.buf.Bytes() }

// Len 返回当前镜像长度
func (b *ImageBuilder) Len() int64 { return int64(b.buf.Len()) }
