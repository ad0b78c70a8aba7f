package main

import (
	"context"
	"flag"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xiaolan20020118-create/Project-Roza/global/config"
	"github.com/xiaolan20020118-create/Project-Roza/logger"
	"github.com/xiaolan20020118-create/Project-Roza/middleware"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/handler"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/service"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/store"
	mgoSrv "github.com/xiaolan20020118-create/Project-Roza/service/mgo"
	redisSrv "github.com/xiaolan20020118-create/Project-Roza/service/storage/redis"
	ids "github.com/xiaolan20020118-create/Project-Roza/tools/ids"
)

func main() {
	cfgPath := flag.String("config", "", "yaml 配置文件路径")
	nodeID := flag.Int64("node", 1, "雪花ID节点")
	flag.Parse()
	defer logger.Sync()

	ids.SetNodeID(*nodeID)
	if err := config.Load(*cfgPath); err != nil {
		logger.Errorf("加载配置失败: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config.ConfigAll(ctx)
	if err := mgoSrv.WaitReady(ctx, 30*time.Second); err != nil {
		logger.Errorf("mongo 启动失败: %v", err)
		return
	}

	db := mgoSrv.GetDB()
	repo := store.NewRepo(db)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Errorf("索引创建失败: %v", err)
		return
	}

	engine := service.NewEngine(repo, service.NewConfigService(db, redisSrv.TryGetRedis()))

	r := gin.New()
	r.Use(middleware.RequestLog(), middleware.Recovery())
	handler.New(engine).Register(r)

	logger.Info("rozad started", zap.String("listen", config.Global.Listen))
	if err := r.Run(config.Global.Listen); err != nil {
		logger.Errorf("http 服务退出: %v", err)
	}
}
