// Package catalog records an append-only audit trail of applet-level
// events (selects, verifies, credential creation, resets) to a gorm
// database, the way the teacher's cmd layer hands its handlers a
// gorm-backed *sqlite.DB for persistence.
package catalog

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DeviceEvent is one row of the audit trail.
type DeviceEvent struct {
	Seq      uint   `gorm:"primaryKey;autoIncrement"`
	ClientID string `gorm:"index"`
	Kind     string
	Detail   string
	At       time.Time
}

// Catalog wraps the gorm handle used to record DeviceEvents.
type Catalog struct {
	db *gorm.DB
}

// Open migrates and returns a Catalog backed by a SQLite file at path.
func Open(path string) (*Catalog, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&DeviceEvent{}); err != nil {
		return nil, err
	}
	return &Catalog{db: db}, nil
}

// Record appends one event, stamping At from now.
func (c *Catalog) Record(clientID, kind, detail string) error {
	return c.db.Create(&DeviceEvent{
		ClientID: clientID,
		Kind:     kind,
		Detail:   detail,
		At:       timeNow(),
	}).Error
}

// Recent returns the last n events, newest first.
func (c *Catalog) Recent(n int) ([]DeviceEvent, error) {
	var events []DeviceEvent
	err := c.db.Order("seq desc").Limit(n).Find(&events).Error
	return events, err
}

// timeNow is a var so tests can substitute a deterministic clock.
var timeNow = time.Now
