package exporter

import (
	"fmt"
	"io"
	"text/tabwriter"

	"ubirescue/pkg/node"
	"ubirescue/pkg/tree"
	"ubirescue/pkg/types"
)

// PrintTree 把恢复出的层级结构渲染成目录树 (ls/tree 风格)
func PrintTree(w io.Writer, t *tree.Tree) {
	fmt.Fprintln(w, "/")
	printBranch(w, t, types.RootInode, "")

	if len(t.Dangling) > 0 {
		fmt.Fprintf(w, "\n%d dangling entries (metadata missing, excluded):\n", len(t.Dangling))
		for _, d := range t.Dangling {
			fmt.Fprintf(w, "  %s -> inode %d (parent %d)\n", d.Name, d.Child, d.Parent)
		}
	}
	if len(t.Cycles) > 0 {
		fmt.Fprintf(w, "\n%d cyclic entries (branch not descended):\n", len(t.Cycles))
		for _, c := range t.Cycles {
			fmt.Fprintf(w, "  %s -> inode %d (parent %d)\n", c.Name, c.Child, c.Parent)
		}
	}
}

func printBranch(w io.Writer, t *tree.Tree, dir types.InodeNum, prefix string) {
	children := t.Children(dir)
	for i, binding := range children {
		last := i == len(children)-1

		connector, childPrefix := "├── ", prefix+"│   "
		if last {
			connector, childPrefix = "└── ", prefix+"    "
		}

		obj := t.Object(binding.Child)
		extra := ""
		if obj != nil {
			switch obj.Kind {
			case node.KindSymlink:
				extra = " -> " + obj.Inode.SymlinkTarget()
			case node.KindFile:
				if obj.Inode != nil {
					extra = fmt.Sprintf(" (%s)", fmtSize(obj.Inode.Size))
				}
			}
			if len(obj.Bindings) > 1 {
				extra += fmt.Sprintf(" [nlink=%d]", len(obj.Bindings))
			}
			if obj.Orphan {
				extra += " [orphan]"
			}
		}

		fmt.Fprintf(w, "%s%s%s%s\n", prefix, connector, binding.Name, extra)

		if obj != nil && obj.Kind == node.KindDir {
			printBranch(w, t, obj.Ino, childPrefix)
		}
	}
}

// PrintSummary 用对齐表格输出物化汇总
func PrintSummary(w io.Writer, sum *Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "materialized\t%d\n", sum.Materialized)
	fmt.Fprintf(tw, "dangling\t%d\n", sum.Dangling)
	fmt.Fprintf(tw, "partially recovered\t%d\n", sum.PartiallyRecovered)
	fmt.Fprintf(tw, "size mismatch\t%d\n", sum.SizeMismatch)
	fmt.Fprintf(tw, "write failures\t%d\n", sum.WriteFailures)
	fmt.Fprintf(tw, "cycles\t%d\n", sum.Cycles)
	fmt.Fprintf(tw, "orphan annotations\t%d\n", sum.Orphans)
	if sum.Skipped > 0 {
		fmt.Fprintf(tw, "skipped by filter\t%d\n", sum.Skipped)
	}
	tw.Flush()
}

func fmtSize(s uint64) string {
	if s < 1024 {
		return fmt.Sprintf("%dB", s)
	} else if s < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(s)/1024)
	}
	return fmt.Sprintf("%.2fMB", float64(s)/1024/1024)
}
