package topic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrEmptyCatalog = errors.New("topic catalog is empty")

type topicRow struct {
	ID        uint   `gorm:"primaryKey"`
	Category  string `gorm:"size:64;not null;uniqueIndex:idx_topics_category_topic"`
	Topic     string `gorm:"size:128;not null;uniqueIndex:idx_topics_category_topic"`
	CreatedAt time.Time
}

func (topicRow) TableName() string { return "topics" }

// Catalog serves topics from a postgres table that operators can curate.
type Catalog struct {
	db *gorm.DB
}

func OpenCatalog(dsn string) (*Catalog, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open topic catalog: %w", err)
	}
	return NewCatalog(db), nil
}

func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) Migrate(ctx context.Context) error {
	return c.db.WithContext(ctx).AutoMigrate(&topicRow{})
}

// Seed inserts topics that are not in the table yet and reports how many
// rows were added.
func (c *Catalog) Seed(ctx context.Context, topics []Topic) (int64, error) {
	rows := make([]topicRow, 0, len(topics))
	for _, t := range topics {
		if t.validate() != nil {
			continue
		}
		rows = append(rows, topicRow{Category: t.Category, Topic: t.Topic})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	res := c.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, 100)
	return res.RowsAffected, res.Error
}

func (c *Catalog) RequestTopic(ctx context.Context) (Topic, error) {
	var row topicRow
	err := c.db.WithContext(ctx).Order("RANDOM()").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Topic{}, ErrEmptyCatalog
	}
	if err != nil {
		return Topic{}, fmt.Errorf("catalog topic: %w", err)
	}
	return Topic{Category: row.Category, Topic: row.Topic}, nil
}

func (c *Catalog) Count(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.WithContext(ctx).Model(&topicRow{}).Count(&n).Error
	return n, err
}

func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
