package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		// 如果用户指定了文件，直接使用
		viper.SetConfigFile(cfgFile)
	} else {
		// 否则按优先级搜索
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：
		// 1. 当前目录
		viper.AddConfigPath(".")
		// 2. 当前目录下的 .ubr
		viper.AddConfigPath(".ubr")
		// 3. 用户主目录下的 .ubr
		viper.AddConfigPath(filepath.Join(home, ".ubr"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (UBR_IMAGE_MIN_IO_SIZE 等)
	viper.SetEnvPrefix("UBR")
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 没找到配置文件不算错——全部配置都有默认值或环境变量兜底
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults + env only
		} else {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	}

	return nil
}

func setDefaults() {
	// 镜像几何：两个尺寸都是配置输入，不从镜像里探测
	viper.SetDefault("image.min_io_size", 8)
	viper.SetDefault("image.leb_size", 0)

	// 输出默认值
	wd, _ := os.Getwd()
	viper.SetDefault("output.path", filepath.Join(wd, "recovered"))
	viper.SetDefault("output.destination", "disk") // disk | s3
	viper.SetDefault("output.ignore_file", "")

	// 编目默认值：sqlite 单文件跟着工作目录走
	viper.SetDefault("catalog.enabled", false)
	viper.SetDefault("catalog.driver", "sqlite")
	viper.SetDefault("catalog.path", filepath.Join(wd, ".ubr", "catalog.db"))
	viper.SetDefault("catalog.host", "localhost")
	viper.SetDefault("catalog.port", 5432)
	viper.SetDefault("catalog.sslmode", "disable")

	// S3 目的地
	viper.SetDefault("s3.endpoint", "")
	viper.SetDefault("s3.region", "us-east-1")
	viper.SetDefault("s3.bucket", "")
	viper.SetDefault("s3.prefix", "")

	// Redis 去重缓存 (仅在重复导出到远端时有意义)
	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	viper.SetDefault("cache.ttl", "24h")
}
