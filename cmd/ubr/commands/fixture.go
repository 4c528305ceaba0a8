package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ubirescue/pkg/node"
	"ubirescue/pkg/types"
)

var fixtureCmd = &cobra.Command{
	Use:   "fixture [path]",
	Short: "Write a small synthetic image for smoke testing",
	Long: `Generate a tiny scannable image: a couple of files, a directory, a
symlink, one stale node version and a stretch of garbage bytes. Useful
for verifying a build or demonstrating the pipeline without a real dump.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img := buildFixture(UBR.ScanCfg.MinIOSize)
		if err := os.WriteFile(args[0], img, 0o644); err != nil {
			return fmt.Errorf("failed to write fixture: %w", err)
		}
		fmt.Printf("🧪 wrote %d-byte fixture image to %s\n", len(img), args[0])
		return nil
	},
}

func buildFixture(align int) []byte {
	const (
		dirIno  = types.RootInode
		noteIno = types.InodeNum(65)
		etcIno  = types.InodeNum(66)
		confIno = types.InodeNum(67)
		linkIno = types.InodeNum(68)
	)

	b := node.NewImageBuilder(align)

	b.Add(node.RawSuperblock(1, 8, 65536, 128))
	b.Add(node.RawMaster(2, uint64(linkIno)))

	// 根目录
	b.Add(node.RawInode(3, node.InodeSpec{Ino: dirIno, Mode: node.ModeTypeDir | 0o755, Nlink: 3}))

	// note.txt：旧版内容 (sqnum 4-5) 被新版 (sqnum 10-11) 覆盖
	b.Add(node.RawInode(4, node.InodeSpec{Ino: noteIno, Mode: node.ModeTypeReg | 0o644, Size: 9, Nlink: 1}))
	b.Add(node.RawData(5, noteIno, 0, []byte("old draft")))
	b.Add(node.RawDent(6, dirIno, "note.txt", noteIno, node.ItypeReg))

	// etc/ 子目录 + conf 文件
	b.Add(node.RawInode(7, node.InodeSpec{Ino: etcIno, Mode: node.ModeTypeDir | 0o755, Nlink: 2}))
	b.Add(node.RawDent(8, dirIno, "etc", etcIno, node.ItypeDir))
	b.Add(node.RawInode(9, node.InodeSpec{Ino: confIno, Mode: node.ModeTypeReg | 0o600, Size: 12, Nlink: 1}))
	b.Add(node.RawData(10, confIno, 0, []byte("key = value\n")))
	b.Add(node.RawDent(11, etcIno, "app.conf", confIno, node.ItypeReg))

	// 一段垃圾字节：扫描器必须靠单字节重同步跨过去
	b.Garbage([]byte("!!! not a node !!!"))

	// note.txt 的权威版本
	b.Add(node.RawInode(12, node.InodeSpec{Ino: noteIno, Mode: node.ModeTypeReg | 0o644, Size: 11, Nlink: 1}))
	b.Add(node.RawData(13, noteIno, 0, []byte("final draft")))

	// 符号链接
	b.Add(node.RawInode(14, node.InodeSpec{
		Ino: linkIno, Mode: node.ModeTypeLnk | 0o777, Size: 8, Nlink: 1, Data: []byte("note.txt"),
	}))
	b.Add(node.RawDent(15, dirIno, "latest", linkIno, node.ItypeLnk))

	// 擦除区收尾
	b.Erased(64)
	return b.Bytes()
}

func init() {
	rootCmd.AddCommand(fixtureCmd)
}
