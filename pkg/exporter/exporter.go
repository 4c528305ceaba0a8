package exporter

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"ubirescue/pkg/assembler"
	"ubirescue/pkg/ignore"
	"ubirescue/pkg/node"
	"ubirescue/pkg/storage"
	"ubirescue/pkg/tree"
	"ubirescue/pkg/types"
)

// Materializer 把解析好的对象图写成真实的文件树
//
// 错误策略跟着恢复的总方针走：单个对象写失败不中止遍历——
// 先做一次文件名净化重试 (恢复出的名字可能含有非法字符)，
// 还不行就记在汇总里，继续处理剩下的对象。
type Materializer struct {
	dest   storage.Destination
	asm    *assembler.Assembler
	filter *ignore.Matcher
}

func NewMaterializer(dest storage.Destination, asm *assembler.Assembler) *Materializer {
	return &Materializer{dest: dest, asm: asm}
}

// WithFilter 设置抽取过滤器 (匹配的路径不物化)
func (m *Materializer) WithFilter(f *ignore.Matcher) *Materializer {
	m.filter = f
	return m
}

// ObjectReport 是单个对象的物化记录
type ObjectReport struct {
	Ino    types.InodeNum
	Paths  []string // 多条路径 = 硬链接
	Kind   node.Kind
	Size   uint64
	Status types.Status
	Orphan bool
}

// Summary 是一次物化的汇总
type Summary struct {
	Materialized       int
	Dangling           int
	PartiallyRecovered int
	SizeMismatch       int
	WriteFailures      int
	Cycles             int
	Orphans            int
	Skipped            int // 被过滤规则排除

	Objects []ObjectReport
}

// Materialize 从根开始深度优先地写出整棵树
//
// 幂等性由 Destination.Prepare 保证：非空目标要么拒绝，要么 (force) 清空重建。
// 硬链接的第二条绑定走 Link，不重复写内容。
func (m *Materializer) Materialize(ctx context.Context, t *tree.Tree, force bool) (*Summary, error) {
	if err := m.dest.Prepare(ctx, force); err != nil {
		return nil, fmt.Errorf("prepare destination: %w", err)
	}

	sum := &Summary{
		Dangling: len(t.Dangling),
		Cycles:   len(t.Cycles),
		Orphans:  len(t.Orphans),
	}

	// 内容拼装先行：各 inode 的片段分区互不相交，可以并发跑
	var fileInos []types.InodeNum
	for _, obj := range t.Objects() {
		if obj.Kind == node.KindFile {
			fileInos = append(fileInos, obj.Ino)
		}
	}
	contents, err := m.asm.AssembleAll(ctx, fileInos, 0)
	if err != nil {
		return sum, fmt.Errorf("assemble contents: %w", err)
	}

	st := &walkState{
		sum:       sum,
		contents:  contents,
		firstPath: make(map[types.InodeNum]string),
		reports:   make(map[types.InodeNum]*ObjectReport),
	}
	m.walk(ctx, t, types.RootInode, "", st)

	// 汇总每个对象的最终状态
	for _, obj := range t.Objects() {
		rep, ok := st.reports[obj.Ino]
		if !ok {
			continue
		}
		if rep.Status.Has(types.StatusPartiallyRecovered) {
			sum.PartiallyRecovered++
		}
		if rep.Status.Has(types.StatusSizeMismatch) {
			sum.SizeMismatch++
		}
		sum.Objects = append(sum.Objects, *rep)
	}

	return sum, nil
}

type walkState struct {
	sum       *Summary
	contents  map[types.InodeNum]assembler.Result
	firstPath map[types.InodeNum]string // 硬链接：inode 第一次落盘的路径
	reports   map[types.InodeNum]*ObjectReport
}

func (m *Materializer) walk(ctx context.Context, t *tree.Tree, dir types.InodeNum, prefix string, st *walkState) {
	for _, binding := range t.Children(dir) {
		obj := t.Object(binding.Child)
		if obj == nil {
			continue // dangling 和环已在树阶段排除
		}

		relPath := path.Join(prefix, binding.Name)
		if m.filter != nil && m.filter.Matches(relPath) {
			st.sum.Skipped++
			continue
		}

		rep := st.reports[obj.Ino]
		if rep == nil {
			rep = &ObjectReport{Ino: obj.Ino, Kind: obj.Kind, Status: obj.Status, Orphan: obj.Orphan}
			if obj.Inode != nil {
				rep.Size = obj.Inode.Size
			}
			st.reports[obj.Ino] = rep
		}

		// 同一个 inode 的后续绑定：追加链接，不复制内容
		if existing, linked := st.firstPath[obj.Ino]; linked {
			// 目录没有硬链接原语：孩子已经在第一条路径下建好，
			// 这条绑定只记录在报告里，不算写失败
			if obj.Kind == node.KindDir {
				rep.Paths = append(rep.Paths, relPath)
				continue
			}
			written, err := m.writeWithRetry(ctx, relPath, func(p string) error {
				return m.dest.Link(ctx, p, existing)
			})
			if err != nil {
				rep.Status |= types.StatusWriteFailed
				st.sum.WriteFailures++
				rep.Paths = append(rep.Paths, relPath)
				continue
			}
			rep.Paths = append(rep.Paths, written)
			continue
		}

		switch obj.Kind {
		case node.KindDir:
			written, err := m.writeWithRetry(ctx, relPath, func(p string) error {
				return m.dest.MkdirAll(ctx, p)
			})
			if err != nil {
				rep.Status |= types.StatusWriteFailed
				st.sum.WriteFailures++
				rep.Paths = append(rep.Paths, relPath)
				continue // 目录建不出来，孩子也没地方放
			}
			rep.Paths = append(rep.Paths, written)
			st.firstPath[obj.Ino] = written
			st.sum.Materialized++
			m.walk(ctx, t, obj.Ino, written, st)

		case node.KindFile:
			res := st.contents[obj.Ino]
			rep.Status |= res.Status

			mode, mtime := survivingMeta(obj.Inode)
			written, err := m.writeWithRetry(ctx, relPath, func(p string) error {
				return m.dest.WriteFile(ctx, p, res.Content, mode, mtime)
			})
			if err != nil {
				rep.Status |= types.StatusWriteFailed
				st.sum.WriteFailures++
				rep.Paths = append(rep.Paths, relPath)
				continue
			}
			rep.Paths = append(rep.Paths, written)
			st.firstPath[obj.Ino] = written
			st.sum.Materialized++

		case node.KindSymlink:
			target := obj.Inode.SymlinkTarget()
			written, err := m.writeWithRetry(ctx, relPath, func(p string) error {
				return m.dest.Symlink(ctx, p, target)
			})
			if err != nil {
				rep.Status |= types.StatusWriteFailed
				st.sum.WriteFailures++
				rep.Paths = append(rep.Paths, relPath)
				continue
			}
			rep.Paths = append(rep.Paths, written)
			st.firstPath[obj.Ino] = written
			st.sum.Materialized++

		default:
			// 设备节点等特殊对象：记录存在，不落盘内容
			rep.Paths = append(rep.Paths, relPath)
		}
	}
}

// writeWithRetry 执行一次写入；失败后净化文件名重试一次，再失败交给调用方记账
// 返回实际写成的路径：净化重试成功时后续的硬链接和报告都要指向净化后的名字
func (m *Materializer) writeWithRetry(ctx context.Context, relPath string, write func(p string) error) (string, error) {
	err := write(relPath)
	if err == nil {
		return relPath, nil
	}

	cleaned := path.Join(path.Dir(relPath), SanitizeName(path.Base(relPath)))
	if cleaned == relPath {
		return relPath, err
	}
	if err := write(cleaned); err != nil {
		return relPath, err
	}
	return cleaned, nil
}

// SanitizeName 把恢复出的文件名里写不进目标文件系统的字节换成 '_'
// 损坏的目录项常带出控制字符甚至斜杠。
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20, r == 0x7F: // 控制字符
			b.WriteByte('_')
		case r == '/', r == '\\', r == ':', r == '*', r == '?', r == '"', r == '<', r == '>', r == '|':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		out = "_"
	}
	return out
}

// survivingMeta 提取能恢复的元数据；短格式 inode 没有这些字段
func survivingMeta(ino *node.Inode) (mode uint32, mtime time.Time) {
	if ino == nil || ino.Short {
		return 0, time.Time{}
	}
	mode = ino.Mode
	if ino.Mtime > 0 {
		mtime = time.Unix(int64(ino.Mtime), 0)
	}
	return mode, mtime
}
