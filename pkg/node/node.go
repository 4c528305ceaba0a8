package node

import (
	"strings"

	"ubirescue/pkg/types"
)

// Node 是所有解码后节点的通用接口
// 节点一旦解码完成就是不可变的：后续所有阶段 (重放、建树、拼装) 只读。
type Node interface {
	// Type 返回节点类型标签
	Type() Type

	// Seq 返回节点的序列号 (逻辑新旧的唯一依据)
	Seq() types.Sqnum

	// Offset 返回节点在镜像里的绝对偏移 (诊断用)
	Offset() int64
}

// Common 是每个具体节点都嵌入的公共部分
type Common struct {
	Hdr Header
	Off int64
}

func (c Common) Seq() types.Sqnum { return c.Hdr.Sqnum }
func (c Common) Offset() int64    { return c.Off }

// -----------------------------------------------------------------------------
// 对象种类 (由 inode 的 mode 推导)
// -----------------------------------------------------------------------------

// Kind 是恢复对象的种类
type Kind uint8

const (
	KindUnknown Kind = iota
	KindFile
	KindDir
	KindSymlink
	KindSpecial // 设备节点、FIFO 等：记录但不落盘内容
)

// mode 的高 4 位决定对象类型 (POSIX S_IFMT)
const (
	ModeTypeMask = 0xF000
	ModeTypeReg  = 0x8000
	ModeTypeDir  = 0x4000
	ModeTypeLnk  = 0xA000
)

// 目录项里记录的目标类型 (UBIFS_ITYPE_*)
const (
	ItypeReg uint8 = 0
	ItypeDir uint8 = 1
	ItypeLnk uint8 = 2
)

// 压缩类型标签 (UBIFS_COMPR_*)
// 解码真实的 LZO/ZLIB/ZSTD 载荷不在范围内：拼装器对非 NONE 的标签
// 走透传钩子并打上标记。
const (
	ComprNone uint16 = 0
	ComprLZO  uint16 = 1
	ComprZlib uint16 = 2
	ComprZstd uint16 = 3
)

func KindOfMode(mode uint32) Kind {
	switch mode & ModeTypeMask {
	case ModeTypeReg:
		return KindFile
	case ModeTypeDir:
		return KindDir
	case ModeTypeLnk:
		return KindSymlink
	default:
		return KindSpecial
	}
}

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	case KindSpecial:
		return "special"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// 具体节点类型
// -----------------------------------------------------------------------------

// Inode 是 INO_NODE：一个文件/目录/链接的元数据
type Inode struct {
	Common

	Ino        types.InodeNum
	CreatSqnum types.Sqnum
	Size       uint64 // 未压缩数据总大小
	Atime      uint64 // 秒级时间戳
	Ctime      uint64
	Mtime      uint64
	Nlink      uint32
	UID        uint32
	GID        uint32
	Mode       uint32
	Flags      uint32
	DataLen    uint32
	ComprType  uint16
	Data       []byte // 内联数据 (符号链接目标存在这里)

	// Short 表示这是按“短格式”解出来的 inode：负载不足完整结构，
	// 只有编号和大小可信。原始实现对这种节点同样保留。
	Short bool
}

func (n *Inode) Type() Type { return TypeInode }

// Kind 返回该 inode 描述的对象种类
func (n *Inode) Kind() Kind { return KindOfMode(n.Mode) }

// SymlinkTarget 返回内联的符号链接目标 (去掉尾部 NUL)
func (n *Inode) SymlinkTarget() string {
	return strings.TrimRight(string(n.Data), "\x00")
}

// Data 是 DATA_NODE：某个文件的一个内容片段
type Data struct {
	Common

	Ino       types.InodeNum
	Block     types.BlockIndex
	USize     uint32 // 解压后的大小
	ComprType uint16
	ComprSize uint16
	Payload   []byte
}

func (n *Data) Type() Type { return TypeData }

// Key 返回片段的逻辑位置，重放时用它做版本归并
func (n *Data) Key() types.FragmentKey {
	return types.FragmentKey{Ino: n.Ino, Block: n.Block}
}

// Dent 是 DENT_NODE / XENT_NODE：父目录下 “名字 -> inode” 的一条绑定
// 两种节点在介质上共享同一布局，Xattr 标记区分语义。
type Dent struct {
	Common

	Parent    types.InodeNum
	NameHash  uint32
	Ino       types.InodeNum // 目标 inode；0 表示删除标记 (unlink)
	EntryType uint8          // 目标 inode 的类型 (UBIFS_ITYPE_*)
	Cookie    uint32
	Name      string
	Xattr     bool
}

func (n *Dent) Type() Type {
	if n.Xattr {
		return TypeXent
	}
	return TypeDent
}

// Key 返回目录项的逻辑位置 ((父目录, 名字) 决定一个槽位)
func (n *Dent) Key() types.EntryKey {
	return types.EntryKey{Parent: n.Parent, Name: n.Name}
}

// Trunc 是 TRUN_NODE：文件被截断的记录
type Trunc struct {
	Common

	Ino     types.InodeNum
	OldSize uint64
	NewSize uint64
}

func (n *Trunc) Type() Type { return TypeTrunc }

// Pad 是 PAD_NODE：LEB 内无意义的填充区
type Pad struct {
	Common

	PadLen uint32
}

func (n *Pad) Type() Type { return TypePad }

// Superblock 是 SB_NODE：卷参数
// 只解恢复用得上的字段，其余留在介质上。
type Superblock struct {
	Common

	MinIOSize    uint32
	LebSize      uint32
	LebCnt       uint32
	MaxLebCnt    uint32
	FmtVersion   uint32
	DefaultCompr uint16
	UUID         [16]byte
}

func (n *Superblock) Type() Type { return TypeSuperblock }

// Master 是 MST_NODE：指向索引根和日志头的主节点
type Master struct {
	Common

	HighestInum uint64
	CmtNo       uint64
	LogLnum     uint32
	RootLnum    uint32
	RootOffs    uint32
	RootLen     uint32
}

func (n *Master) Type() Type { return TypeMaster }

// Ref 是 REF_NODE：日志对 bud LEB 的引用
type Ref struct {
	Common

	Lnum  uint32
	Offs  uint32
	Jhead uint8
}

func (n *Ref) Type() Type { return TypeRef }

// Index 是 IDX_NODE：wandering tree 的索引节点
// 恢复走的是全量扫描，不依赖索引，所以只保留形状信息。
type Index struct {
	Common

	ChildCnt uint16
	Level    uint16
}

func (n *Index) Type() Type { return TypeIndex }

// CommitStart 是 CS_NODE：一次 commit 的起始标记
type CommitStart struct {
	Common

	CmtNo uint64
}

func (n *CommitStart) Type() Type { return TypeCommitStart }

// Orphan 是 ORPH_NODE：已 unlink 但尚未清除的 inode 列表
// 恢复时作为只读取证线索暴露，不做自动 undelete。
type Orphan struct {
	Common

	CmtNo uint64
	Inos  []types.InodeNum
}

func (n *Orphan) Type() Type { return TypeOrphan }

// Opaque 包装无法识别的类型标签
// 未来的新节点类型不应让其它所有东西的恢复停摆。
type Opaque struct {
	Common

	RawType uint8
	Payload []byte
}

func (n *Opaque) Type() Type { return TypeOpaque }
