package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/xiaolan20020118-create/Project-Roza/logger"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
	"github.com/xiaolan20020118-create/Project-Roza/tools/errs"
)

const (
	collBotConfig   = "bot_config"
	collGroupConfig = "group_config"

	cacheKeyBot   = "roza:botcfg:"
	cacheKeyGroup = "roza:groupcfg:"
)

// ConfigService 机器人与群配置的读取入口。
// RDB 非空时走 redis 旁路缓存，写操作后失效对应键。
type ConfigService struct {
	DB  *mongo.Database
	RDB *redis.Client
	TTL time.Duration
}

func NewConfigService(db *mongo.Database, rdb *redis.Client) *ConfigService {
	return &ConfigService{DB: db, RDB: rdb, TTL: 5 * time.Minute}
}

// BotConfig 读取机器人配置，未配置的 bot 返回空白缺省值。
func (s *ConfigService) BotConfig(ctx context.Context, botID string) (*model.BotConfig, error) {
	var bc model.BotConfig
	ok, err := s.cached(ctx, cacheKeyBot+botID, &bc)
	if err == nil && ok {
		return &bc, nil
	}

	err = s.DB.Collection(collBotConfig).FindOne(ctx, bson.M{"bot_id": botID}).Decode(&bc)
	if err == mongo.ErrNoDocuments {
		bc = model.BotConfig{BotID: botID}
	} else if err != nil {
		return nil, errors.Wrap(err, "load bot_config")
	}
	s.fill(ctx, cacheKeyBot+botID, &bc)
	return &bc, nil
}

// GroupConfig 读取群配置，未配置的群取缺省值（各阶段关闭）。
func (s *ConfigService) GroupConfig(ctx context.Context, botID, groupID string) (*model.GroupConfig, error) {
	key := cacheKeyGroup + botID + ":" + groupID
	var gc model.GroupConfig
	ok, err := s.cached(ctx, key, &gc)
	if err == nil && ok {
		return &gc, nil
	}

	err = s.DB.Collection(collGroupConfig).
		FindOne(ctx, bson.M{"bot_id": botID, "group_id": groupID}).Decode(&gc)
	if err == mongo.ErrNoDocuments {
		gc = *model.DefaultGroupConfig(botID, groupID)
	} else if err != nil {
		return nil, errors.Wrap(err, "load group_config")
	}
	s.fill(ctx, key, &gc)
	return &gc, nil
}

// 可通过 SetCrossGroup 修改的开关名。
var crossGroupFields = map[string]bool{
	"favor_cross_group":       true,
	"persona_cross_group":     true,
	"blacklist_cross_group":   true,
	"usage_limit_cross_group": true,
}

// SetCrossGroup 管理端修改某群的跨群开关，写库并失效缓存。
// 开关只影响后续操作的寻址，不迁移既有数据。
func (s *ConfigService) SetCrossGroup(ctx context.Context, botID, groupID, flag string, value bool) error {
	if !crossGroupFields[flag] {
		return errs.ErrValueInvalid.WithDetail("未知跨群开关 " + flag)
	}
	_, err := s.DB.Collection(collGroupConfig).UpdateOne(ctx,
		bson.M{"bot_id": botID, "group_id": groupID},
		bson.M{"$set": bson.M{flag: value}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrap(err, "set cross group flag")
	}
	s.invalidate(ctx, cacheKeyGroup+botID+":"+groupID)
	logger.Info("cross group flag updated",
		zap.String("bot_id", botID),
		zap.String("group_id", groupID),
		zap.String("flag", flag),
		zap.Bool("value", value))
	return nil
}

func (s *ConfigService) cached(ctx context.Context, key string, out interface{}) (bool, error) {
	if s.RDB == nil {
		return false, nil
	}
	raw, err := s.RDB.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		// 缓存故障降级为直读库
		logger.Warn("config cache read failed", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *ConfigService) fill(ctx context.Context, key string, v interface{}) {
	if s.RDB == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.RDB.Set(ctx, key, raw, s.TTL).Err(); err != nil {
		logger.Warn("config cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *ConfigService) invalidate(ctx context.Context, key string) {
	if s.RDB == nil {
		return
	}
	_ = s.RDB.Del(ctx, key).Err()
}
