package store

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/policy"
)

const collUserData = "user_data"

// Repo Mongo 实现。
type Repo struct {
	DB *mongo.Database

	Now func() time.Time
}

func NewRepo(db *mongo.Database) *Repo {
	return &Repo{DB: db, Now: time.Now}
}

func (r *Repo) coll() *mongo.Collection {
	return r.DB.Collection(collUserData)
}

// EnsureIndexes 创建 (bot_id, group_id, user_id) 唯一复合索引。
func (r *Repo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "bot_id", Value: 1},
			{Key: "group_id", Value: 1},
			{Key: "user_id", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("uk_bot_group_user"),
	})
	return errors.Wrap(err, "ensure user_data indexes")
}

func keyFilter(key model.Key) bson.M {
	return bson.M{
		"bot_id":   key.BotID,
		"group_id": key.GroupID,
		"user_id":  key.UserID,
	}
}

// patternFilter 目标匹配转 Mongo 查询，通配段编译为锚定正则。
func patternFilter(p policy.Pattern) bson.M {
	f := bson.M{}
	put := func(field string, s policy.Segment) {
		switch s.Kind {
		case policy.SegAny:
			// 不加条件
		case policy.SegExact:
			f[field] = s.Value
		case policy.SegPrefix:
			f[field] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(s.Value)}
		case policy.SegSuffix:
			f[field] = primitive.Regex{Pattern: regexp.QuoteMeta(s.Value) + "$"}
		case policy.SegContains:
			f[field] = primitive.Regex{Pattern: regexp.QuoteMeta(s.Value)}
		}
	}
	put("bot_id", p.Bot)
	put("group_id", p.Group)
	put("user_id", p.User)
	return f
}

func (r *Repo) Get(ctx context.Context, key model.Key) (*model.Document, error) {
	var doc model.Document
	err := r.coll().FindOne(ctx, keyFilter(key)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get user_data")
	}
	return &doc, nil
}

func (r *Repo) Insert(ctx context.Context, doc *model.Document) error {
	_, err := r.coll().InsertOne(ctx, doc)
	return errors.Wrap(err, "insert user_data")
}

func (r *Repo) Find(ctx context.Context, p policy.Pattern) ([]*model.Document, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "bot_id", Value: 1},
		{Key: "group_id", Value: 1},
		{Key: "user_id", Value: 1},
	})
	cur, err := r.coll().Find(ctx, patternFilter(p), opts)
	if err != nil {
		return nil, errors.Wrap(err, "find user_data")
	}
	defer cur.Close(ctx)
	var docs []*model.Document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode user_data")
	}
	return docs, nil
}

// changedFilter 在原过滤条件上叠加“至少一个字段值与目标不同”，
// 使 ModifiedCount 只统计实际变化的文档，与内存实现语义对齐。
func changedFilter(base bson.M, set map[string]interface{}) bson.M {
	or := bson.A{}
	for path, v := range set {
		or = append(or, bson.M{path: bson.M{"$ne": v}})
	}
	f := bson.M{"$or": or}
	for k, v := range base {
		f[k] = v
	}
	return f
}

func (r *Repo) updateDoc(set map[string]interface{}) bson.M {
	s := bson.M{"updated_at": model.FormatTime(r.Now())}
	for path, v := range set {
		s[path] = v
	}
	return bson.M{
		"$set": s,
		"$inc": bson.M{"version": 1},
	}
}

func (r *Repo) UpdateKey(ctx context.Context, key model.Key, set map[string]interface{}) (bool, error) {
	res, err := r.coll().UpdateOne(ctx, changedFilter(keyFilter(key), set), r.updateDoc(set))
	if err != nil {
		return false, errors.Wrap(err, "update user_data")
	}
	return res.ModifiedCount > 0, nil
}

func (r *Repo) UpdateMany(ctx context.Context, p policy.Pattern, set map[string]interface{}) (int, error) {
	res, err := r.coll().UpdateMany(ctx, changedFilter(patternFilter(p), set), r.updateDoc(set))
	if err != nil {
		return 0, errors.Wrap(err, "update many user_data")
	}
	return int(res.ModifiedCount), nil
}

func (r *Repo) CompareAndSwap(ctx context.Context, key model.Key, version int64, set map[string]interface{}) (bool, error) {
	f := keyFilter(key)
	f["version"] = version
	res, err := r.coll().UpdateOne(ctx, f, r.updateDoc(set))
	if err != nil {
		return false, errors.Wrap(err, "cas user_data")
	}
	return res.ModifiedCount > 0, nil
}

func (r *Repo) IncrementUsage(ctx context.Context, key model.Key, date string, limit int) (int, bool, error) {
	// 跨日重置，幂等：usage_date 已是当天时不命中
	resetFilter := keyFilter(key)
	resetFilter["usage_date"] = bson.M{"$ne": date}
	_, err := r.coll().UpdateOne(ctx, resetFilter, bson.M{
		"$set": bson.M{"usage_date": date, "daily_usage_count": 0},
	})
	if err != nil {
		return 0, false, errors.Wrap(err, "reset daily usage")
	}

	f := keyFilter(key)
	if limit > 0 {
		f["daily_usage_count"] = bson.M{"$lt": limit}
	}
	update := bson.M{
		"$inc": bson.M{"daily_usage_count": 1, "version": 1},
		"$set": bson.M{"updated_at": model.FormatTime(r.Now())},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc model.Document
	err = r.coll().FindOneAndUpdate(ctx, f, update, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		// 已达上限，回读当前计数
		cur, gerr := r.Get(ctx, key)
		if gerr != nil {
			return 0, false, gerr
		}
		if cur == nil {
			return 0, false, errors.New("usage target not found")
		}
		return cur.DailyUsageCount, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "increment daily usage")
	}
	return doc.DailyUsageCount, true, nil
}

func (r *Repo) AppendHistory(ctx context.Context, key model.Key, entry model.HistoryEntry) (int, error) {
	update := bson.M{
		"$push": bson.M{"history_entries": entry},
		"$inc":  bson.M{"history_stats.total_histories": 1, "version": 1},
		"$set":  bson.M{"updated_at": model.FormatTime(r.Now())},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc model.Document
	err := r.coll().FindOneAndUpdate(ctx, keyFilter(key), update, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, errors.New("history target not found")
	}
	if err != nil {
		return 0, errors.Wrap(err, "append history")
	}
	return doc.HistoryStats.TotalHistories, nil
}

func (r *Repo) TrimHistory(ctx context.Context, key model.Key, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	// 裁剪量依赖读到的条数，更新带版本条件；
	// 期间有并发追加时版本不匹配，重读后重试一次
	for attempt := 0; attempt < 2; attempt++ {
		cur, err := r.Get(ctx, key)
		if err != nil {
			return 0, err
		}
		if cur == nil || len(cur.HistoryEntries) == 0 {
			return 0, nil
		}
		removed := n
		if removed > len(cur.HistoryEntries) {
			removed = len(cur.HistoryEntries)
		}
		keep := len(cur.HistoryEntries) - removed
		total := cur.HistoryStats.TotalHistories - removed
		if total < 0 {
			total = 0
		}
		f := keyFilter(key)
		f["version"] = cur.Version
		// $slice 正值保留开头 keep 条，即删掉最近的 removed 条
		update := bson.M{
			"$push": bson.M{"history_entries": bson.M{"$each": bson.A{}, "$slice": keep}},
			"$inc":  bson.M{"version": 1},
			"$set": bson.M{
				"history_stats.total_histories": total,
				"updated_at":                    model.FormatTime(r.Now()),
			},
		}
		res, err := r.coll().UpdateOne(ctx, f, update)
		if err != nil {
			return 0, errors.Wrap(err, "trim history")
		}
		if res.ModifiedCount > 0 {
			return removed, nil
		}
	}
	return 0, errors.New("trim history version conflict")
}

// Rank 的取值逻辑（数组按长度）与内存实现一致，在应用侧排序。
func (r *Repo) Rank(ctx context.Context, p policy.Pattern, field string, limit int) ([]RankItem, error) {
	docs, err := r.Find(ctx, p)
	if err != nil {
		return nil, err
	}
	items := make([]RankItem, 0, len(docs))
	for _, d := range docs {
		v, _ := model.GetPath(d, field)
		items = append(items, RankItem{
			UserID:  d.UserID,
			GroupID: d.GroupID,
			Value:   model.NumericValue(v),
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Value > items[j].Value })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
