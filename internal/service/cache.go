// cache.go — LRU-кэш статусов подписи документов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signing_status_cache_hits_total",
		Help: "Общее количество попаданий в кэш статусов подписи.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signing_status_cache_misses_total",
		Help: "Общее количество промахов кэша статусов подписи.",
	})
)

// StatusCache — кэш статусов подписи с автоматическим TTL.
// Каждый экземпляр сервиса имеет собственный in-memory кэш;
// любое пересчитанное значение перезаписывает запись.
type StatusCache struct {
	cache *expirable.LRU[string, *DocumentSignatureStatus]
}

// NewStatusCache создаёт кэш с указанным максимальным размером и TTL.
func NewStatusCache(maxSize int, ttl time.Duration) *StatusCache {
	cache := expirable.NewLRU[string, *DocumentSignatureStatus](maxSize, nil, ttl)
	return &StatusCache{cache: cache}
}

// Get возвращает статус документа из кэша.
// Возвращает (статус, true) при hit или (nil, false) при miss.
func (c *StatusCache) Get(documentID string) (*DocumentSignatureStatus, bool) {
	val, ok := c.cache.Get(documentID)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или перезаписывает статус документа.
func (c *StatusCache) Set(documentID string, st *DocumentSignatureStatus) {
	c.cache.Add(documentID, st)
}

// Delete удаляет статус документа из кэша.
func (c *StatusCache) Delete(documentID string) {
	c.cache.Remove(documentID)
}
