package assembler

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ubirescue/pkg/node"
	"ubirescue/pkg/registry"
	"ubirescue/pkg/types"
)

func fileNode(sq types.Sqnum, ino types.InodeNum, size uint64) *node.Inode {
	return &node.Inode{
		Common: node.Common{Hdr: node.Header{Sqnum: sq, NodeType: node.TypeInode}},
		Ino:    ino, Mode: node.ModeTypeReg | 0o644, Size: size, Nlink: 1,
	}
}

func frag(sq types.Sqnum, ino types.InodeNum, block types.BlockIndex, payload []byte) *node.Data {
	return &node.Data{
		Common: node.Common{Hdr: node.Header{Sqnum: sq, NodeType: node.TypeData}},
		Ino:    ino, Block: block, USize: uint32(len(payload)), Payload: payload,
	}
}

// fullBlock 造一个填满 4096 字节的内容块
func fullBlock(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, types.BlockSize)
}

func TestAssemble_SingleBlock(t *testing.T) {
	reg := registry.Replay([]node.Node{
		fileNode(1, 65, 11),
		frag(2, 65, 0, []byte("hello world")),
	})

	res, err := New(reg).Assemble(65)
	require.NoError(t, err)

	assert.Equal(t, []byte("hello world"), res.Content)
	assert.Equal(t, types.StatusOK, res.Status)
	assert.Zero(t, res.MissingBlocks)
}

func TestAssemble_MultiBlockOrdering(t *testing.T) {
	// 片段乱序到达：拼装按块序号落位，与发现顺序无关
	b0, b1 := fullBlock('A'), []byte("tail")
	reg := registry.Replay([]node.Node{
		fileNode(1, 65, uint64(len(b0)+len(b1))),
		frag(3, 65, 1, b1),
		frag(2, 65, 0, b0),
	})

	res, err := New(reg).Assemble(65)
	require.NoError(t, err)

	assert.Equal(t, append(append([]byte(nil), b0...), b1...), res.Content)
	assert.Equal(t, types.StatusOK, res.Status)
}

func TestAssemble_SubBlockFragmentsConcatenate(t *testing.T) {
	// 非末尾片段也可以不足整块：拼接是按块序号顺序首尾相接，
	// 不是按 块号×块大小 落位——否则块 1 的内容会被推到 4096 之后裁掉
	reg := registry.Replay([]node.Node{
		fileNode(1, 2, 20),
		frag(2, 2, 0, []byte("0123456789")),
		frag(3, 2, 1, []byte("abcdefghij")),
	})

	res, err := New(reg).Assemble(2)
	require.NoError(t, err)

	assert.Equal(t, []byte("0123456789abcdefghij"), res.Content)
	assert.Equal(t, types.StatusOK, res.Status)
	assert.Zero(t, res.MissingBlocks)
}

func TestAssemble_GapZeroFilled(t *testing.T) {
	// 块 1 丢了：声明大小内补零，打 PartiallyRecovered
	b0, b2 := fullBlock('A'), []byte("end")
	declared := uint64(2*types.BlockSize + len(b2))
	reg := registry.Replay([]node.Node{
		fileNode(1, 65, declared),
		frag(2, 65, 0, b0),
		frag(3, 65, 2, b2),
	})

	res, err := New(reg).Assemble(65)
	require.NoError(t, err)

	require.Equal(t, declared, uint64(len(res.Content)))
	assert.True(t, res.Status.Has(types.StatusPartiallyRecovered))
	assert.Equal(t, 1, res.MissingBlocks)
	// 缺失的中段必须是零
	gap := res.Content[types.BlockSize : 2*types.BlockSize]
	assert.Equal(t, make([]byte, types.BlockSize), gap)
	assert.Equal(t, b2, res.Content[2*types.BlockSize:])
}

func TestAssemble_SizeMismatchTrimmed(t *testing.T) {
	// 片段伸出声明大小之外：裁到声明大小，但如实打标
	reg := registry.Replay([]node.Node{
		fileNode(1, 65, 5),
		frag(2, 65, 0, []byte("0123456789")),
	})

	res, err := New(reg).Assemble(65)
	require.NoError(t, err)

	assert.Equal(t, []byte("01234"), res.Content)
	assert.True(t, res.Status.Has(types.StatusSizeMismatch))
}

func TestAssemble_InlineSymlinkTarget(t *testing.T) {
	// 符号链接没有数据节点：内容内联在 inode 里
	ln := &node.Inode{
		Common: node.Common{Hdr: node.Header{Sqnum: 1, NodeType: node.TypeInode}},
		Ino:    70, Mode: node.ModeTypeLnk | 0o777, Size: 8, Nlink: 1,
		Data: []byte("note.txt"),
	}
	reg := registry.Replay([]node.Node{ln})

	res, err := New(reg).Assemble(70)
	require.NoError(t, err)
	assert.Equal(t, []byte("note.txt"), res.Content)
	assert.Equal(t, types.StatusOK, res.Status)
}

func TestAssemble_TruncClampsNewerThanInode(t *testing.T) {
	// 截断记录比 inode 新：以截断后的大小为准
	reg := registry.Replay([]node.Node{
		fileNode(5, 65, 11),
		frag(6, 65, 0, []byte("hello world")),
		&node.Trunc{Common: node.Common{Hdr: node.Header{Sqnum: 9}}, Ino: 65, NewSize: 5},
	})

	res, err := New(reg).Assemble(65)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), res.Content)
}

func TestAssemble_TruncIgnoredWhenOlder(t *testing.T) {
	// inode 在截断之后又被重写 (sqnum 更大)：截断不再生效
	reg := registry.Replay([]node.Node{
		&node.Trunc{Common: node.Common{Hdr: node.Header{Sqnum: 3}}, Ino: 65, NewSize: 2},
		fileNode(5, 65, 11),
		frag(6, 65, 0, []byte("hello world")),
	})

	res, err := New(reg).Assemble(65)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), res.Content)
}

func TestAssemble_UnknownInodeIsError(t *testing.T) {
	reg := registry.Replay(nil)
	_, err := New(reg).Assemble(999)
	assert.Error(t, err)
}

func TestAssemble_TransformHook(t *testing.T) {
	reg := registry.Replay([]node.Node{
		fileNode(1, 65, 3),
		frag(2, 65, 0, []byte("abc")),
	})

	// 自定义变换：全部大写 (站在真实解压钩子的位置上)
	upper := func(_ uint16, payload []byte, _ uint32) ([]byte, error) {
		return bytes.ToUpper(payload), nil
	}

	res, err := New(reg).WithTransform(upper).Assemble(65)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABC"), res.Content)
}

func TestAssemble_TransformFailureBecomesMissingBlock(t *testing.T) {
	reg := registry.Replay([]node.Node{
		fileNode(1, 65, 3),
		frag(2, 65, 0, []byte("abc")),
	})

	boom := func(_ uint16, _ []byte, _ uint32) ([]byte, error) {
		return nil, errors.New("decompressor exploded")
	}

	res, err := New(reg).WithTransform(boom).Assemble(65)
	require.NoError(t, err, "单块失败不应让整个文件失败")
	assert.True(t, res.Status.Has(types.StatusPartiallyRecovered))
	assert.Equal(t, 1, res.MissingBlocks)
	assert.Equal(t, make([]byte, 3), res.Content)
}

func TestAssembleAll_Concurrent(t *testing.T) {
	var nodes []node.Node
	var inos []types.InodeNum
	for i := types.InodeNum(100); i < 140; i++ {
		nodes = append(nodes,
			fileNode(types.Sqnum(i), i, 4),
			frag(types.Sqnum(i)+1000, i, 0, []byte("data")),
		)
		inos = append(inos, i)
	}
	reg := registry.Replay(nodes)

	out, err := New(reg).AssembleAll(context.Background(), inos, 8)
	require.NoError(t, err)
	require.Len(t, out, len(inos))
	for _, ino := range inos {
		assert.Equal(t, []byte("data"), out[ino].Content, "inode %d", ino)
	}
}

func TestAssembleAll_PropagatesError(t *testing.T) {
	reg := registry.Replay([]node.Node{fileNode(1, 65, 0)})

	_, err := New(reg).AssembleAll(context.Background(), []types.InodeNum{65, 999}, 2)
	assert.Error(t, err, "未知 inode 的错误要向上传")
}
