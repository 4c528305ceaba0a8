package exporter

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ubirescue/pkg/assembler"
	"ubirescue/pkg/node"
	"ubirescue/pkg/registry"
	"ubirescue/pkg/storage"
	"ubirescue/pkg/storage/disk"
	"ubirescue/pkg/tree"
	"ubirescue/pkg/types"
)

// -----------------------------------------------------------------------------
// 场景搭建：一个小而全的镜像状态
//   /
//   ├── date.txt          (20 字节普通文件)
//   ├── docs/
//   │   └── readme.md
//   ├── linked            (date.txt 的硬链接)
//   └── latest -> date.txt
// -----------------------------------------------------------------------------

func buildScenario(t *testing.T) (*registry.Registry, *tree.Tree) {
	t.Helper()

	ino := func(sq types.Sqnum, n types.InodeNum, mode uint32, size uint64, data []byte) *node.Inode {
		return &node.Inode{
			Common: node.Common{Hdr: node.Header{Sqnum: sq, NodeType: node.TypeInode}},
			Ino:    n, Mode: mode, Size: size, Nlink: 1, Data: data,
			Mtime: 1700000000,
		}
	}
	dent := func(sq types.Sqnum, parent types.InodeNum, name string, child types.InodeNum) *node.Dent {
		return &node.Dent{
			Common: node.Common{Hdr: node.Header{Sqnum: sq, NodeType: node.TypeDent}},
			Parent: parent, Name: name, Ino: child,
		}
	}
	data := func(sq types.Sqnum, n types.InodeNum, block types.BlockIndex, payload []byte) *node.Data {
		return &node.Data{
			Common: node.Common{Hdr: node.Header{Sqnum: sq, NodeType: node.TypeData}},
			Ino:    n, Block: block, USize: uint32(len(payload)), Payload: payload,
		}
	}

	content := []byte("2026-08-24 10:00:00\n") // 20 字节
	reg := registry.Replay([]node.Node{
		ino(1, types.RootInode, node.ModeTypeDir|0o755, 0, nil),
		ino(2, 65, node.ModeTypeReg|0o644, uint64(len(content)), nil),
		data(3, 65, 0, content),
		dent(4, types.RootInode, "date.txt", 65),
		ino(5, 66, node.ModeTypeDir|0o755, 0, nil),
		dent(6, types.RootInode, "docs", 66),
		ino(7, 67, node.ModeTypeReg|0o600, 5, nil),
		data(8, 67, 0, []byte("intro")),
		dent(9, 66, "readme.md", 67),
		dent(10, types.RootInode, "linked", 65), // 硬链接
		ino(11, 68, node.ModeTypeLnk|0o777, 8, []byte("date.txt")),
		dent(12, types.RootInode, "latest", 68),
	})
	return reg, tree.Build(reg)
}

func materializeTo(t *testing.T, dir string, reg *registry.Registry, tr *tree.Tree, force bool) (*Summary, error) {
	t.Helper()
	dest := disk.NewAdapter(dir)
	mat := NewMaterializer(dest, assembler.New(reg))
	return mat.Materialize(context.Background(), tr, force)
}

func TestMaterialize_FullTree(t *testing.T) {
	reg, tr := buildScenario(t)
	out := t.TempDir()

	sum, err := materializeTo(t, out, reg, tr, true)
	require.NoError(t, err)

	// date.txt 内容逐字节还原
	got, err := os.ReadFile(filepath.Join(out, "date.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2026-08-24 10:00:00\n"), got)
	assert.Len(t, got, 20)

	// 子目录和里面的文件
	inner, err := os.ReadFile(filepath.Join(out, "docs", "readme.md"))
	require.NoError(t, err)
	assert.Equal(t, []byte("intro"), inner)

	// 硬链接：第二条绑定与第一条内容一致
	linked, err := os.ReadFile(filepath.Join(out, "linked"))
	require.NoError(t, err)
	assert.Equal(t, got, linked)

	// 符号链接指向恢复出的目标
	target, err := os.Readlink(filepath.Join(out, "latest"))
	require.NoError(t, err)
	assert.Equal(t, "date.txt", target)

	assert.Zero(t, sum.WriteFailures)
	assert.Zero(t, sum.Dangling)
	// date.txt + docs + readme + latest；硬链接的第二条绑定不重复计数
	assert.Equal(t, 4, sum.Materialized)
	if sum.WriteFailures == 0 {
		t.Log("✅ 全部对象落盘成功")
	}
}

func TestMaterialize_RefusesNonEmptyDestination(t *testing.T) {
	reg, tr := buildScenario(t)
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "leftover"), []byte("x"), 0o644))

	_, err := materializeTo(t, out, reg, tr, false)
	assert.ErrorIs(t, err, storage.ErrNotEmpty)
}

func TestMaterialize_ForceClearsAndRewrites(t *testing.T) {
	reg, tr := buildScenario(t)
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "leftover"), []byte("x"), 0o644))

	// 第一轮 force
	_, err := materializeTo(t, out, reg, tr, true)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "leftover"))
	assert.True(t, os.IsNotExist(err), "force 必须先清空目标")

	// 第二轮 force：重复抽取等价于重建，结果一致
	sum, err := materializeTo(t, out, reg, tr, true)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(out, "date.txt"))
	require.NoError(t, err)
	assert.Len(t, got, 20)
	assert.Zero(t, sum.WriteFailures)
}

func TestMaterialize_StatusRollup(t *testing.T) {
	// 一个缺块的文件：对象要带着 partial 标记出现在汇总里
	content := bytes.Repeat([]byte{'A'}, types.BlockSize)
	reg := registry.Replay([]node.Node{
		&node.Inode{
			Common: node.Common{Hdr: node.Header{Sqnum: 1}},
			Ino:    types.RootInode, Mode: node.ModeTypeDir | 0o755, Nlink: 2,
		},
		&node.Inode{
			Common: node.Common{Hdr: node.Header{Sqnum: 2}},
			Ino:    65, Mode: node.ModeTypeReg | 0o644, Size: uint64(2 * types.BlockSize), Nlink: 1,
		},
		&node.Data{
			Common: node.Common{Hdr: node.Header{Sqnum: 3}},
			Ino:    65, Block: 0, USize: uint32(len(content)), Payload: content,
		},
		// 块 1 永远不会到
		&node.Dent{
			Common: node.Common{Hdr: node.Header{Sqnum: 4}},
			Parent: types.RootInode, Name: "holey.bin", Ino: 65,
		},
	})
	tr := tree.Build(reg)
	out := t.TempDir()

	sum, err := materializeTo(t, out, reg, tr, true)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.PartiallyRecovered)

	got, err := os.ReadFile(filepath.Join(out, "holey.bin"))
	require.NoError(t, err)
	require.Len(t, got, 2*types.BlockSize)
	assert.Equal(t, make([]byte, types.BlockSize), got[types.BlockSize:], "缺块必须是零")
}

func TestMaterialize_SanitizedPathIsRecorded(t *testing.T) {
	// 损坏的目录项带出一个写不进目标文件系统的名字 (内嵌 NUL)：
	// 净化重试成功后，报告和后续的硬链接都必须指向净化后的名字
	content := []byte("payload")
	reg := registry.Replay([]node.Node{
		&node.Inode{
			Common: node.Common{Hdr: node.Header{Sqnum: 1}},
			Ino:    types.RootInode, Mode: node.ModeTypeDir | 0o755, Nlink: 2,
		},
		&node.Inode{
			Common: node.Common{Hdr: node.Header{Sqnum: 2}},
			Ino:    65, Mode: node.ModeTypeReg | 0o644, Size: uint64(len(content)), Nlink: 2,
		},
		&node.Data{
			Common: node.Common{Hdr: node.Header{Sqnum: 3}},
			Ino:    65, Block: 0, USize: uint32(len(content)), Payload: content,
		},
		&node.Dent{
			Common: node.Common{Hdr: node.Header{Sqnum: 4}},
			Parent: types.RootInode, Name: "bad\x00name.txt", Ino: 65,
		},
		&node.Dent{
			Common: node.Common{Hdr: node.Header{Sqnum: 5}},
			Parent: types.RootInode, Name: "copy.txt", Ino: 65, // 硬链接，名字排在净化名之后
		},
	})
	tr := tree.Build(reg)
	out := t.TempDir()

	sum, err := materializeTo(t, out, reg, tr, true)
	require.NoError(t, err)
	assert.Zero(t, sum.WriteFailures)

	// 文件落在净化后的名字下
	got, err := os.ReadFile(filepath.Join(out, "bad_name.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// 硬链接的第二条绑定指向实际写成的路径，而不是从未存在过的原始名
	linked, err := os.ReadFile(filepath.Join(out, "copy.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, linked)

	found := false
	for _, obj := range sum.Objects {
		if obj.Ino == 65 {
			found = true
			assert.Equal(t, []string{"bad_name.txt", "copy.txt"}, obj.Paths)
		}
	}
	assert.True(t, found, "对象报告里必须有 inode 65")
}

func TestMaterialize_HardlinkedDirectorySecondBindingSkipsLink(t *testing.T) {
	// 两条目录项指向同一个目录：孩子只在第一条路径下物化一次，
	// 第二条绑定不能走硬链接 (目录没有链接原语)，也不能算写失败
	reg := registry.Replay([]node.Node{
		&node.Inode{
			Common: node.Common{Hdr: node.Header{Sqnum: 1}},
			Ino:    types.RootInode, Mode: node.ModeTypeDir | 0o755, Nlink: 2,
		},
		&node.Inode{
			Common: node.Common{Hdr: node.Header{Sqnum: 2}},
			Ino:    66, Mode: node.ModeTypeDir | 0o755, Nlink: 3,
		},
		&node.Dent{
			Common: node.Common{Hdr: node.Header{Sqnum: 3}},
			Parent: types.RootInode, Name: "docs", Ino: 66,
		},
		&node.Dent{
			Common: node.Common{Hdr: node.Header{Sqnum: 4}},
			Parent: types.RootInode, Name: "mirror", Ino: 66,
		},
		&node.Inode{
			Common: node.Common{Hdr: node.Header{Sqnum: 5}},
			Ino:    67, Mode: node.ModeTypeReg | 0o600, Size: 5, Nlink: 1,
		},
		&node.Data{
			Common: node.Common{Hdr: node.Header{Sqnum: 6}},
			Ino:    67, Block: 0, USize: 5, Payload: []byte("intro"),
		},
		&node.Dent{
			Common: node.Common{Hdr: node.Header{Sqnum: 7}},
			Parent: 66, Name: "readme.md", Ino: 67,
		},
	})
	tr := tree.Build(reg)
	out := t.TempDir()

	sum, err := materializeTo(t, out, reg, tr, true)
	require.NoError(t, err)
	assert.Zero(t, sum.WriteFailures, "目录的额外绑定不是写失败")

	inner, err := os.ReadFile(filepath.Join(out, "docs", "readme.md"))
	require.NoError(t, err)
	assert.Equal(t, []byte("intro"), inner)

	// 两条绑定都记录在对象报告里
	for _, obj := range sum.Objects {
		if obj.Ino == 66 {
			assert.Equal(t, []string{"docs", "mirror"}, obj.Paths)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"normal.txt", "normal.txt"},
		{"bad\x01name", "bad_name"},
		{"semi:colon", "semi_colon"},
		{"sla/sh", "sla_sh"},
		{"", "_"},
		{".", "_"},
		{"..", "_"},
		{"tab\there", "tab_here"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in), "input %q", tt.in)
	}
}

func TestPrintTree_Rendering(t *testing.T) {
	_, tr := buildScenario(t)

	var buf bytes.Buffer
	PrintTree(&buf, tr)
	out := buf.String()

	assert.Contains(t, out, "date.txt")
	assert.Contains(t, out, "└──")
	assert.Contains(t, out, "latest -> date.txt")
	assert.Contains(t, out, "[nlink=2]") // 硬链接注记
}

func TestPrintSummary_Rendering(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, &Summary{Materialized: 7, Dangling: 1, Cycles: 2})
	out := buf.String()

	assert.Contains(t, out, "materialized")
	assert.Contains(t, out, "7")
	assert.Contains(t, out, "dangling")
}
