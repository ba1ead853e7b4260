package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Peakviker/RefSeller/internal/entity"
	"github.com/Peakviker/RefSeller/pkg/cache"
)

const (
	_cacheTTL       = 5 * time.Minute
	_cacheKeyPrefix = "notify"

	_fieldData = "data"
)

// Запись кеша хранится в hash: version (updated_at в микросекундах) и data (JSON).
// Скрипт не дает более старой версии затереть более новую.
var savePreferencesScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// CacheRepository хранит настройки пользователей в Redis перед БД.
type CacheRepository struct {
	rdb goredis.Cmdable
	ttl time.Duration
}

func NewCacheRepository(rdb goredis.Cmdable) *CacheRepository {
	return &CacheRepository{rdb: rdb, ttl: _cacheTTL}
}

func (s *CacheRepository) preferencesKey(userID string) string {
	return cache.Key(_cacheKeyPrefix, "prefs", userID)
}

// preferencesVersion упорядочивает записи кеша. Синтезированные настройки без строки в БД старше любых сохраненных.
func preferencesVersion(prefs entity.Preferences) int64 {
	if prefs.UpdatedAt.IsZero() {
		return 0
	}
	return prefs.UpdatedAt.UnixMicro()
}

// GetPreferences возвращает ok=false при промахе.
func (s *CacheRepository) GetPreferences(ctx context.Context, userID string) (entity.Preferences, bool, error) {
	const op = "repository.CacheRepository.GetPreferences"

	raw, err := s.rdb.HGet(ctx, s.preferencesKey(userID), _fieldData).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return entity.Preferences{}, false, nil
		}
		return entity.Preferences{}, false, fmt.Errorf("%s: %w", op, err)
	}

	prefs, err := cache.Deserialize[entity.Preferences](raw)
	if err != nil {
		return entity.Preferences{}, false, fmt.Errorf("%s: %w", op, err)
	}
	return prefs, true, nil
}

// SavePreferences кладет настройки в кеш, если там не лежит более новая версия.
// Возвращает false, когда запись отклонена как устаревшая.
func (s *CacheRepository) SavePreferences(ctx context.Context, prefs entity.Preferences) (bool, error) {
	const op = "repository.CacheRepository.SavePreferences"

	data, err := cache.Serialize(prefs)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	stored, err := savePreferencesScript.Run(ctx, s.rdb,
		[]string{s.preferencesKey(prefs.UserID)},
		preferencesVersion(prefs), data, s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return stored == 1, nil
}

func (s *CacheRepository) InvalidatePreferences(ctx context.Context, userID string) error {
	const op = "repository.CacheRepository.InvalidatePreferences"

	if err := s.rdb.Del(ctx, s.preferencesKey(userID)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
