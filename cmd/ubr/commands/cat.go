package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ubirescue/pkg/assembler"
	"ubirescue/pkg/node"
	"ubirescue/pkg/tree"
	"ubirescue/pkg/types"
)

var catCmd = &cobra.Command{
	Use:   "cat [image] [path-or-inode]",
	Short: "Assemble one file's content and write it to stdout",
	Long: `Recover a single file without materializing the whole tree.
The target can be a path inside the recovered tree ("etc/passwd")
or a raw inode number ("#65").

Output goes to stdout so binaries can be redirected: ubr cat img '#65' > blob.bin`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, target := args[0], args[1]

		_, reg, t, err := loadTree(cmd.Context(), image)
		if err != nil {
			return err
		}

		ino, err := resolveTarget(t, target)
		if err != nil {
			return err
		}

		res, err := assembler.New(reg).Assemble(ino)
		if err != nil {
			return fmt.Errorf("cat failed: %w", err)
		}

		// 状态警告走 stderr，stdout 保持纯内容
		if res.Status.Has(types.StatusPartiallyRecovered) {
			fmt.Fprintf(os.Stderr, "⚠️  %d blocks missing, gaps are zero-filled\n", res.MissingBlocks)
		}
		if res.Status.Has(types.StatusSizeMismatch) {
			fmt.Fprintf(os.Stderr, "⚠️  assembled size disagrees with inode size %d\n", res.DeclaredSize)
		}

		_, err = os.Stdout.Write(res.Content)
		return err
	},
}

// resolveTarget 把 "#inode" 或树内路径翻译成 inode 编号
func resolveTarget(t *tree.Tree, target string) (types.InodeNum, error) {
	if strings.HasPrefix(target, "#") {
		n, err := strconv.ParseUint(target[1:], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid inode argument %q: %w", target, err)
		}
		return types.InodeNum(n), nil
	}

	cur := types.RootInode
	for _, part := range strings.Split(strings.Trim(target, "/"), "/") {
		found := false
		for _, b := range t.Children(cur) {
			if b.Name == part {
				cur = b.Child
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("path %q not found in recovered tree", target)
		}
	}

	if obj := t.Object(cur); obj != nil && obj.Kind == node.KindDir {
		return 0, fmt.Errorf("%q is a directory", target)
	}
	return cur, nil
}

func init() {
	rootCmd.AddCommand(catCmd)
}
