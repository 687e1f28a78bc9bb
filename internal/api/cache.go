package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"latlon-utils/internal/geo"
	"latlon-utils/internal/logger"
	"latlon-utils/internal/metrics"
)

// 文档注释：Redis 响应缓存
// 背景：同一组坐标的结果只依赖本地数据文件，可整体缓存已编码的响应体；键中带文件版本
// 约束：rc 为 nil 时全部跳过；Redis 错误只记日志，不影响查询
type responseCache struct {
	rc  *redis.Client
	ttl time.Duration
}

// climateKey：坐标列表可能很长，键中只保留其 xxhash；rev 为数据文件版本
func climateKey(res string, vars []string, rev string, pts []geo.Point) string {
	return "latlon:climate:" + res + ":" + strings.Join(vars, ",") + ":" + rev + ":" + pointsDigest(pts)
}

func countryKey(source, rev string, pts []geo.Point) string {
	if len(pts) == 1 {
		return "latlon:country:" + source + ":" + rev + ":" + pts[0].Key()
	}
	return "latlon:country:" + source + ":" + rev + ":" + pointsDigest(pts)
}

// fileRevision：由大小与修改时间得到的文件版本；重新下载替换文件后随之变化
// 约束：没有路径时返回 "0"；不存在的文件按空文件计
func fileRevision(paths ...string) string {
	if len(paths) == 0 {
		return "0"
	}
	h := xxhash.New()
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil {
			fmt.Fprintf(h, "%s:%d:%d;", p, st.Size(), st.ModTime().UnixNano())
		} else {
			fmt.Fprintf(h, "%s:-;", p)
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func pointsDigest(pts []geo.Point) string {
	h := xxhash.New()
	for i, p := range pts {
		if i > 0 {
			_, _ = h.WriteString(";")
		}
		_, _ = h.WriteString(p.Key())
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func (c responseCache) get(ctx context.Context, layer, key string) ([]byte, bool) {
	if c.rc == nil {
		return nil, false
	}
	b, err := c.rc.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.L().Warn("redis_get_error", "key", key, "err", err)
		}
		metrics.CacheMissesTotal.WithLabelValues(layer).Inc()
		return nil, false
	}
	metrics.CacheHitsTotal.WithLabelValues(layer).Inc()
	return b, true
}

func (c responseCache) set(ctx context.Context, key string, b []byte) {
	if c.rc == nil {
		return
	}
	if err := c.rc.Set(ctx, key, b, c.ttl).Err(); err != nil {
		logger.L().Warn("redis_set_error", "key", key, "err", err)
	}
}
