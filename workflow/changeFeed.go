package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/equiptrack_backend/config"
	"github.com/mmdatafocus/equiptrack_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ChangeFeed is how consumers observe clearance mutations. Both modes read
// the same outbox rows; push mode additionally drains them to Pub/Sub, poll
// mode leaves the rows in place and serves them by cursor.
type ChangeFeed interface {
	// Run blocks until ctx is cancelled. In push mode it drives the outbox
	// dispatcher; in poll mode it only prunes published rows.
	Run(ctx context.Context)
	// Poll returns up to limit events for an org with id > afterId, oldest
	// first. The row id is the cursor.
	Poll(ctx context.Context, orgId string, afterId int, limit int) ([]models.ClearanceEventRecord, error)
}

// NewChangeFeed picks the implementation from CHANGE_FEED_MODE.
func NewChangeFeed(db *gorm.DB, logger *logrus.Logger) ChangeFeed {
	if config.ChangeFeedMode() == config.ChangeFeedModePoll {
		return &pollChangeFeed{db: db}
	}
	return &pushChangeFeed{
		db:         db,
		dispatcher: NewOutboxDispatcher(db, logger),
	}
}

func pollEvents(ctx context.Context, db *gorm.DB, orgId string, afterId int, limit int) ([]models.ClearanceEventRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []models.ClearanceEventRecord
	err := db.WithContext(ctx).
		Where("org_id = ? AND id > ?", orgId, afterId).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

type pushChangeFeed struct {
	db         *gorm.DB
	dispatcher *OutboxDispatcher
}

func (f *pushChangeFeed) Run(ctx context.Context) {
	f.dispatcher.Run(ctx)
}

func (f *pushChangeFeed) Poll(ctx context.Context, orgId string, afterId int, limit int) ([]models.ClearanceEventRecord, error) {
	return pollEvents(ctx, f.db, orgId, afterId, limit)
}

// pollChangeFeed never touches Pub/Sub. Rows stay PENDING; consumers track
// their own cursor, so nothing needs claiming or marking.
type pollChangeFeed struct {
	db *gorm.DB
}

const pollFeedRetention = 30 * 24 * time.Hour

func (f *pollChangeFeed) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-pollFeedRetention)
			_ = f.db.WithContext(ctx).
				Where("created_at < ?", cutoff).
				Delete(&models.ClearanceEventRecord{}).Error
		}
	}
}

func (f *pollChangeFeed) Poll(ctx context.Context, orgId string, afterId int, limit int) ([]models.ClearanceEventRecord, error) {
	return pollEvents(ctx, f.db, orgId, afterId, limit)
}
