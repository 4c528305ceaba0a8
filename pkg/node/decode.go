package node

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ubirescue/pkg/types"
)

// ErrShortPayload: 负载比该类型的最小结构还短
// 这种错误只让这一个节点失败，扫描和重放继续。
var ErrShortPayload = errors.New("payload shorter than node structure")

// 各类型负载的最小结构大小 (不含 24 字节公共头)
const (
	keySize      = 16  // ino/data/dent 负载开头的 16 字节 key 区
	inoDataOff   = 136 // 完整 INO 结构的固定部分
	inoShortMin  = 40  // 短格式 INO：只有 key + creat_sqnum + size
	dataDataOff  = 24  // DATA 固定部分，其后是片段内容
	dentFixedLen = 32  // DENT/XENT 固定部分，其后是名字
	truncLen     = 32
	padMin       = 4
	sbMin        = 100
	mstMin       = 36
	refLen       = 9
	idxMin       = 4
	csLen        = 8
	orphMin      = 8
)

// key 区第二个字：高 3 位是 key 类型，低 29 位是 block 编号 / 名字哈希
const keyValueMask = 0x1FFFFFFF

// Decode 把一个已被扫描器接受的节点 (头 + 负载) 转成类型化节点
//
// 分派规则：
//   - 识别的类型标签 -> 对应的结构化解码，全部做边界检查
//   - 未识别的标签 -> Opaque 节点 (保留诊断，不报错)
//   - 负载短于最小结构 -> ErrShortPayload，只有这一个节点失败
func Decode(hdr Header, offset int64, payload []byte) (Node, error) {
	c := Common{Hdr: hdr, Off: offset}

	switch hdr.NodeType {
	case TypeInode:
		return decodeInode(c, payload)
	case TypeData:
		return decodeData(c, payload)
	case TypeDent:
		return decodeDent(c, payload, false)
	case TypeXent:
		return decodeDent(c, payload, true)
	case TypeTrunc:
		return decodeTrunc(c, payload)
	case TypePad:
		return decodePad(c, payload)
	case TypeSuperblock:
		return decodeSuperblock(c, payload)
	case TypeMaster:
		return decodeMaster(c, payload)
	case TypeRef:
		return decodeRef(c, payload)
	case TypeIndex:
		return decodeIndex(c, payload)
	case TypeCommitStart:
		return decodeCommitStart(c, payload)
	case TypeOrphan:
		return decodeOrphan(c, payload)
	default:
		return &Opaque{Common: c, RawType: uint8(hdr.NodeType), Payload: clone(payload)}, nil
	}
}

func short(t Type, got, want int) error {
	return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortPayload, t, want, got)
}

func decodeInode(c Common, p []byte) (Node, error) {
	if len(p) < inoShortMin {
		return nil, short(TypeInode, len(p), inoShortMin)
	}

	n := &Inode{
		Common:     c,
		Ino:        types.InodeNum(binary.LittleEndian.Uint32(p[0:4])),
		CreatSqnum: types.Sqnum(binary.LittleEndian.Uint64(p[16:24])),
		Size:       binary.LittleEndian.Uint64(p[24:32]),
	}

	// 原始格式里存在一种被截短的 inode 变体：
	// 只有 key + creat_sqnum + size 可信。保留它，后面的阶段仍然能用编号和大小。
	if len(p) < inoDataOff {
		n.Short = true
		return n, nil
	}

	n.Atime = binary.LittleEndian.Uint64(p[32:40])
	n.Ctime = binary.LittleEndian.Uint64(p[40:48])
	n.Mtime = binary.LittleEndian.Uint64(p[48:56])
	n.Nlink = binary.LittleEndian.Uint32(p[68:72])
	n.UID = binary.LittleEndian.Uint32(p[72:76])
	n.GID = binary.LittleEndian.Uint32(p[76:80])
	n.Mode = binary.LittleEndian.Uint32(p[80:84])
	n.Flags = binary.LittleEndian.Uint32(p[84:88])
	n.DataLen = binary.LittleEndian.Uint32(p[88:92])
	n.ComprType = binary.LittleEndian.Uint16(p[108:110])

	// 内联数据：符号链接目标、小文件的直接内容
	// data_len 声明的长度也要夹在实际剩余字节内。
	inline := p[inoDataOff:]
	if int(n.DataLen) < len(inline) {
		inline = inline[:n.DataLen]
	}
	n.Data = clone(inline)

	return n, nil
}

func decodeData(c Common, p []byte) (Node, error) {
	if len(p) < dataDataOff {
		return nil, short(TypeData, len(p), dataDataOff)
	}
	return &Data{
		Common:    c,
		Ino:       types.InodeNum(binary.LittleEndian.Uint32(p[0:4])),
		Block:     types.BlockIndex(binary.LittleEndian.Uint32(p[4:8]) & keyValueMask),
		USize:     binary.LittleEndian.Uint32(p[16:20]),
		ComprType: binary.LittleEndian.Uint16(p[20:22]),
		ComprSize: binary.LittleEndian.Uint16(p[22:24]),
		Payload:   clone(p[dataDataOff:]),
	}, nil
}

func decodeDent(c Common, p []byte, xattr bool) (Node, error) {
	t := TypeDent
	if xattr {
		t = TypeXent
	}
	if len(p) < dentFixedLen {
		return nil, short(t, len(p), dentFixedLen)
	}

	nlen := int(binary.LittleEndian.Uint16(p[26:28]))
	if len(p) < dentFixedLen+nlen {
		return nil, short(t, len(p), dentFixedLen+nlen)
	}

	return &Dent{
		Common:    c,
		Parent:    types.InodeNum(binary.LittleEndian.Uint32(p[0:4])),
		NameHash:  binary.LittleEndian.Uint32(p[4:8]) & keyValueMask,
		Ino:       types.InodeNum(binary.LittleEndian.Uint64(p[16:24])),
		EntryType: p[25],
		Cookie:    binary.LittleEndian.Uint32(p[28:32]),
		Name:      string(p[dentFixedLen : dentFixedLen+nlen]),
		Xattr:     xattr,
	}, nil
}

func decodeTrunc(c Common, p []byte) (Node, error) {
	if len(p) < truncLen {
		return nil, short(TypeTrunc, len(p), truncLen)
	}
	return &Trunc{
		Common:  c,
		Ino:     types.InodeNum(binary.LittleEndian.Uint32(p[0:4])),
		OldSize: binary.LittleEndian.Uint64(p[16:24]),
		NewSize: binary.LittleEndian.Uint64(p[24:32]),
	}, nil
}

func decodePad(c Common, p []byte) (Node, error) {
	if len(p) < padMin {
		return nil, short(TypePad, len(p), padMin)
	}
	return &Pad{Common: c, PadLen: binary.LittleEndian.Uint32(p[0:4])}, nil
}

func decodeSuperblock(c Common, p []byte) (Node, error) {
	if len(p) < sbMin {
		return nil, short(TypeSuperblock, len(p), sbMin)
	}
	n := &Superblock{
		Common:       c,
		MinIOSize:    binary.LittleEndian.Uint32(p[8:12]),
		LebSize:      binary.LittleEndian.Uint32(p[12:16]),
		LebCnt:       binary.LittleEndian.Uint32(p[16:20]),
		MaxLebCnt:    binary.LittleEndian.Uint32(p[20:24]),
		FmtVersion:   binary.LittleEndian.Uint32(p[56:60]),
		DefaultCompr: binary.LittleEndian.Uint16(p[60:62]),
	}
	copy(n.UUID[:], p[84:100])
	return n, nil
}

func decodeMaster(c Common, p []byte) (Node, error) {
	if len(p) < mstMin {
		return nil, short(TypeMaster, len(p), mstMin)
	}
	return &Master{
		Common:      c,
		HighestInum: binary.LittleEndian.Uint64(p[0:8]),
		CmtNo:       binary.LittleEndian.Uint64(p[8:16]),
		LogLnum:     binary.LittleEndian.Uint32(p[20:24]),
		RootLnum:    binary.LittleEndian.Uint32(p[24:28]),
		RootOffs:    binary.LittleEndian.Uint32(p[28:32]),
		RootLen:     binary.LittleEndian.Uint32(p[32:36]),
	}, nil
}

func decodeRef(c Common, p []byte) (Node, error) {
	if len(p) < refLen {
		return nil, short(TypeRef, len(p), refLen)
	}
	return &Ref{
		Common: c,
		Lnum:   binary.LittleEndian.Uint32(p[0:4]),
		Offs:   binary.LittleEndian.Uint32(p[4:8]),
		Jhead:  p[8],
	}, nil
}

func decodeIndex(c Common, p []byte) (Node, error) {
	if len(p) < idxMin {
		return nil, short(TypeIndex, len(p), idxMin)
	}
	return &Index{
		Common:   c,
		ChildCnt: binary.LittleEndian.Uint16(p[0:2]),
		Level:    binary.LittleEndian.Uint16(p[2:4]),
	}, nil
}

func decodeCommitStart(c Common, p []byte) (Node, error) {
	if len(p) < csLen {
		return nil, short(TypeCommitStart, len(p), csLen)
	}
	return &CommitStart{Common: c, CmtNo: binary.LittleEndian.Uint64(p[0:8])}, nil
}

func decodeOrphan(c Common, p []byte) (Node, error) {
	if len(p) < orphMin {
		return nil, short(TypeOrphan, len(p), orphMin)
	}
	n := &Orphan{Common: c, CmtNo: binary.LittleEndian.Uint64(p[0:8])}

	// 其后是一串 u64 inode 编号；不完整的尾部直接忽略
	rest := p[8:]
	for len(rest) >= 8 {
		n.Inos = append(n.Inos, types.InodeNum(binary.LittleEndian.Uint64(rest[0:8])))
		rest = rest[8:]
	}
	return n, nil
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
