package scanner

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ubirescue/pkg/node"
)

// mustScan 扫描一块内存镜像，预期整体成功
func mustScan(t *testing.T, img []byte, cfg Config) *Result {
	t.Helper()
	res, err := Scan(context.Background(), bytes.NewReader(img), int64(len(img)), cfg)
	require.NoError(t, err)
	return res
}

func TestScan_CleanImage(t *testing.T) {
	img := node.NewImageBuilder(8).
		Add(node.RawSuperblock(1, 8, 65536, 64)).
		Add(node.RawInode(2, node.InodeSpec{Ino: 1, Mode: node.ModeTypeDir | 0o755, Nlink: 2})).
		Add(node.RawDent(3, 1, "a.txt", 65, node.ItypeReg)).
		Bytes()

	res := mustScan(t, img, Config{MinIOSize: 8})

	require.Len(t, res.Nodes, 3)
	assert.Equal(t, node.TypeSuperblock, res.Nodes[0].Header.NodeType)
	assert.Equal(t, node.TypeInode, res.Nodes[1].Header.NodeType)
	assert.Equal(t, node.TypeDent, res.Nodes[2].Header.NodeType)
	assert.Zero(t, res.Stats.CRCFailures)
	assert.False(t, res.Stats.TruncatedTail)
}

func TestScan_EmptyImageIsSuccess(t *testing.T) {
	// 全 0xFF 的镜像 (全部被擦除)：零节点，但扫描本身是成功的
	img := bytes.Repeat([]byte{0xFF}, 4096)
	res := mustScan(t, img, Config{})
	assert.Empty(t, res.Nodes)
}

func TestScan_ResyncAfterGarbage(t *testing.T) {
	// 节点之间夹一段任意长度 (非对齐) 的垃圾字节
	// 扫描器必须单字节前进，重新锁定下一个节点。
	b := node.NewImageBuilder(8)
	b.Add(node.RawInode(1, node.InodeSpec{Ino: 65, Mode: node.ModeTypeReg | 0o644, Size: 3, Nlink: 1}))
	b.Garbage([]byte("\x00\x01garbage bytes of odd length!\x02"))
	b.Add(node.RawData(2, 65, 0, []byte("abc")))

	res := mustScan(t, b.Bytes(), Config{MinIOSize: 8})

	require.Len(t, res.Nodes, 2)
	assert.Equal(t, node.TypeInode, res.Nodes[0].Header.NodeType)
	assert.Equal(t, node.TypeData, res.Nodes[1].Header.NodeType)
}

func TestScan_CorruptedNodeIsSkipped(t *testing.T) {
	good := node.RawInode(1, node.InodeSpec{Ino: 65, Mode: node.ModeTypeReg | 0o644, Nlink: 1})
	bad := node.RawData(2, 65, 0, []byte("payload"))
	bad[node.HeaderSize+5] ^= 0xFF // 负载损坏，CRC 对不上

	b := node.NewImageBuilder(8)
	b.Add(bad)
	b.Add(good)
	res := mustScan(t, b.Bytes(), Config{MinIOSize: 8})

	// 坏节点被跳过，好节点照常接受
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, node.TypeInode, res.Nodes[0].Header.NodeType)
	assert.GreaterOrEqual(t, res.Stats.CRCFailures, 1)
}

func TestScan_Deterministic(t *testing.T) {
	// 同一块镜像扫两遍，结果必须完全一致 (扫描是只读、无状态的)
	b := node.NewImageBuilder(8)
	b.Add(node.RawInode(1, node.InodeSpec{Ino: 65, Mode: node.ModeTypeReg | 0o644, Nlink: 1}))
	b.Garbage([]byte("xx"))
	b.Add(node.RawData(2, 65, 0, []byte("abc")))
	img := b.Bytes()

	first := mustScan(t, img, Config{MinIOSize: 8})
	second := mustScan(t, img, Config{MinIOSize: 8})

	require.Equal(t, len(first.Nodes), len(second.Nodes))
	for i := range first.Nodes {
		assert.Equal(t, first.Nodes[i].Offset, second.Nodes[i].Offset)
		assert.Equal(t, first.Nodes[i].Header, second.Nodes[i].Header)
	}
}

func TestScan_TruncatedTail(t *testing.T) {
	// 镜像在最后一个节点中途结束：该节点按截断接受并打标
	full := node.RawInode(9, node.InodeSpec{Ino: 65, Mode: node.ModeTypeReg | 0o644, Size: 7, Nlink: 1})
	img := append([]byte(nil), node.RawDent(1, 1, "cut.bin", 65, node.ItypeReg)...)
	for len(img)%8 != 0 {
		img = append(img, 0xFF)
	}
	img = append(img, full[:len(full)-20]...) // 掐掉尾巴

	res := mustScan(t, img, Config{MinIOSize: 8})

	require.Len(t, res.Nodes, 2)
	assert.True(t, res.Stats.TruncatedTail)
	last := res.Nodes[len(res.Nodes)-1]
	assert.True(t, last.Truncated)
	assert.Equal(t, node.TypeInode, last.Header.NodeType)
}

func TestScan_Cancellation(t *testing.T) {
	b := node.NewImageBuilder(8)
	for i := 1; i <= 50; i++ {
		b.Add(node.RawData(1, 65, 0, []byte("block")))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // 扫描开始前就取消

	img := b.Bytes()
	res, err := Scan(ctx, bytes.NewReader(img), int64(len(img)), Config{MinIOSize: 8})

	require.ErrorIs(t, err, ErrPartialScan)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res, "取消时也要交出已恢复的部分结果")
	assert.True(t, res.Stats.Partial)
}

func TestScan_DefaultAlignment(t *testing.T) {
	// 不配置 MinIOSize 时按 8 字节对齐 (UBIFS 节点对齐)
	b := node.NewImageBuilder(8)
	b.Add(node.RawData(1, 65, 0, []byte("first")))
	b.Add(node.RawData(2, 65, 1, []byte("second")))

	res := mustScan(t, b.Bytes(), Config{})
	require.Len(t, res.Nodes, 2)
	assert.Zero(t, res.Nodes[1].Offset%8)
}
