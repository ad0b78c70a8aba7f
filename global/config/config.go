package config

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/xiaolan20020118-create/Project-Roza/logger"
	mgoSrv "github.com/xiaolan20020118-create/Project-Roza/service/mgo"
	redis "github.com/xiaolan20020118-create/Project-Roza/service/storage/redis"
)

// AppConfig 进程级配置。
type AppConfig struct {
	Listen string        `yaml:"listen"` // http 监听地址
	Mongo  mgoSrv.Config `yaml:"mongo"`
	Redis  redis.Config  `yaml:"redis"`
}

var Global = AppConfig{
	Listen: ":8080",
	Mongo: mgoSrv.Config{
		URI:         "mongodb://localhost:27017",
		Database:    "roza",
		MaxPoolSize: 20,
	},
	Redis: redis.Config{
		Addr: "127.0.0.1:6379",
	},
}

// Load 从 yaml 文件加载配置覆盖缺省值，path 为空时跳过。
func Load(path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(raw, &Global); err != nil {
		return errors.Wrap(err, "parse config file")
	}
	return nil
}

// ConfigAll 初始化基础设施连接。
func ConfigAll(ctx context.Context) {
	ConfigMgo(ctx)
	ConfigRedis()
}

func ConfigMgo(ctx context.Context) {
	mgoSrv.StartAsync(ctx, Global.Mongo)
}

func ConfigRedis() {
	if !Global.Redis.Enable {
		logger.Info("redis disabled, config cache off")
		return
	}
	if err := redis.InitRedis(Global.Redis); err != nil {
		logger.Errorf("redis init failed: %v", err)
	}
}
