package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ubirescue/pkg/app"
	"ubirescue/pkg/config"
)

var (
	cfgFile string
	// 全局应用实例，供子命令使用
	UBR *app.App
)

var rootCmd = &cobra.Command{
	Use:   "ubr",
	Short: "ubirescue: recover files from raw UBIFS flash images",
	Long: `ubirescue scans a raw UBIFS image byte by byte, replays the node
journal into its latest visible state, and rebuilds the directory
tree and file contents. It never mounts anything and never trusts
the on-media index — a torn or half-erased dump is the expected input.`,
	// 【关键】PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 统一初始化 App
		var err error
		UBR, err = app.NewApp(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to initialize ubirescue: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

// Execute 是入口
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// 在初始化时，加载配置
	cobra.OnInitialize(initConfig)

	// 1. 定义全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ubr/config.yaml)")

	// 2. 常用配置的命令行覆盖，绑定到 Viper
	// 这样用户既可以在 yaml 里写，也可以用参数覆盖
	rootCmd.PersistentFlags().Int("min-io-size", 8, "minimum I/O unit used for node alignment")
	rootCmd.PersistentFlags().Int("leb-size", 0, "logical eraseblock size (informational)")
	rootCmd.PersistentFlags().String("out", "", "output directory for recovered files")

	for viperKey, flag := range map[string]string{
		"image.min_io_size": "min-io-size",
		"image.leb_size":    "leb-size",
		"output.path":       "out",
	} {
		if err := viper.BindPFlag(viperKey, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Println("Failed to bind flag:", err)
			os.Exit(1)
		}
	}
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Println("Config error:", err)
		os.Exit(1)
	}
}
