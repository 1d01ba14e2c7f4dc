package models

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/equiptrack_backend/config"
)

const clearanceItemCacheTTL = 10 * time.Minute

func clearanceItemCacheKey(orgId string, inventoryId int) string {
	return fmt.Sprintf("clearanceItems:%s:%d", orgId, inventoryId)
}

// GetClearanceItemsByEquipment returns every clearance item row referencing
// one equipment item, read-through cached. The cache is only a latency
// shortcut; every write path that touches these rows invalidates the key
// after commit, so a hit is at worst one invalidation behind.
func GetClearanceItemsByEquipment(ctx context.Context, inventoryId int) ([]*ClearanceInventoryItem, error) {
	orgId, err := orgIdFromContext(ctx)
	if err != nil {
		return nil, err
	}

	key := clearanceItemCacheKey(orgId, inventoryId)
	var cached []*ClearanceInventoryItem
	if found, err := config.GetRedisObject(key, &cached); err == nil && found {
		return cached, nil
	}

	db := config.GetDB()
	var items []*ClearanceInventoryItem
	if err := db.WithContext(ctx).
		Where("org_id = ? AND inventory_id = ?", orgId, inventoryId).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}

	// Cache failures never fail the read.
	_ = config.SetRedisObject(key, items, clearanceItemCacheTTL)
	return items, nil
}

func invalidateClearanceItemCache(orgId string, inventoryId int) {
	logger := config.GetLogger()
	if err := config.RemoveRedisKey(clearanceItemCacheKey(orgId, inventoryId)); err != nil {
		config.LogError(logger, "models", "invalidateClearanceItemCache", "remove key", inventoryId, err)
	}
}
