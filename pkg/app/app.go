// pkg/app/app.go
package app

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"ubirescue/pkg/catalog"
	"ubirescue/pkg/ignore"
	"ubirescue/pkg/scanner"
	"ubirescue/pkg/storage"
	"ubirescue/pkg/storage/cache"
	"ubirescue/pkg/storage/disk"
	"ubirescue/pkg/storage/s3"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务
type App struct {
	ScanCfg    scanner.Config
	OutputPath string

	// Catalog 是可选的：没开编目就是 nil，调用方用前要判空
	Catalog *catalog.Repository
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context) (*App, error) {
	a := &App{
		ScanCfg: scanner.Config{
			MinIOSize: viper.GetInt("image.min_io_size"),
			LebSize:   viper.GetInt("image.leb_size"),
		},
		OutputPath: viper.GetString("output.path"),
	}

	if viper.GetBool("catalog.enabled") {
		db, err := catalog.NewDB(ctx, catalog.Config{
			Driver:   viper.GetString("catalog.driver"),
			Path:     viper.GetString("catalog.path"),
			Host:     viper.GetString("catalog.host"),
			Port:     viper.GetInt("catalog.port"),
			User:     viper.GetString("catalog.user"),
			Password: viper.GetString("catalog.password"),
			DBName:   viper.GetString("catalog.dbname"),
			SSLMode:  viper.GetString("catalog.sslmode"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init catalog: %w", err)
		}
		a.Catalog = catalog.NewRepository(db)
	}

	return a, nil
}

// NewDestination 按配置组装物化目的地
// 形态: disk | s3 | s3+redis 去重层
func (a *App) NewDestination(ctx context.Context) (storage.Destination, error) {
	var dest storage.Destination

	switch kind := viper.GetString("output.destination"); kind {
	case "disk":
		dest = disk.NewAdapter(a.OutputPath)

	case "s3":
		s3dest, err := s3.NewAdapter(ctx, s3.Config{
			Endpoint:        viper.GetString("s3.endpoint"),
			Region:          viper.GetString("s3.region"),
			Bucket:          viper.GetString("s3.bucket"),
			Prefix:          viper.GetString("s3.prefix"),
			AccessKeyID:     viper.GetString("s3.access_key_id"),
			SecretAccessKey: viper.GetString("s3.secret_access_key"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init s3 destination: %w", err)
		}
		dest = s3dest

	default:
		return nil, fmt.Errorf("unknown destination: %q", kind)
	}

	// 可选的 Redis 去重层：重复导出时跳过未变化的对象
	if viper.GetBool("cache.enabled") {
		cached, err := cache.NewCachedDestination(dest, cache.Config{
			RedisURL: viper.GetString("cache.redis_url"),
			TTL:      viper.GetDuration("cache.ttl"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init cache layer: %w", err)
		}
		dest = cached
	}

	return dest, nil
}

// NewFilter 按配置编译抽取过滤器；没配规则文件也会带上默认规则
func (a *App) NewFilter() (*ignore.Matcher, error) {
	return ignore.NewMatcher(viper.GetString("output.ignore_file"))
}
