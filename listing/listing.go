// Package listing is the business record kept in sync across the database,
// the search index and the cache.
package listing

import (
	"time"

	"gorm.io/gorm"

	"github.com/unkn0wn-root/listingsync/ident"
	"github.com/unkn0wn-root/listingsync/logger"
	"github.com/unkn0wn-root/listingsync/records"
)

// IndexKey is the logical index the listings live in.
const IndexKey = "listings"

// Location is a geo point as the index stores it.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Listing is one business record. JSON names are the wire contract shared
// with cache and queue consumers.
type Listing struct {
	ID          string     `json:"id" gorm:"column:id;primaryKey;size:64"`
	OwnerID     *int64     `json:"oid,omitempty" gorm:"column:owner_id;index"`
	Name        string     `json:"name" gorm:"column:name;size:255"`
	Latitude    *float64   `json:"lat,omitempty" gorm:"column:latitude"`
	Longitude   *float64   `json:"lon,omitempty" gorm:"column:longitude"`
	Location    *Location  `json:"location,omitempty" gorm:"-"`
	Description string     `json:"desc,omitempty" gorm:"column:description"`
	DeletedAt   *time.Time `json:"is_delete,omitempty" gorm:"column:is_delete;index"`
	UpdatedAt   *time.Time `json:"updated,omitempty" gorm:"column:updated_at;autoUpdateTime:false"`
	CreatedAt   time.Time  `json:"created" gorm:"column:created_at;autoCreateTime:false"`
}

func (Listing) TableName() string { return "listings" }

// AfterFind restores the derived location of rows read from the database.
func (l *Listing) AfterFind(*gorm.DB) error {
	l.SyncLocation()
	return nil
}

// SyncLocation derives Location from Latitude and Longitude.
// Location is set only when both are.
func (l *Listing) SyncLocation() {
	if l.Latitude == nil || l.Longitude == nil {
		l.Location = nil
		return
	}
	l.Location = &Location{Lat: *l.Latitude, Lon: *l.Longitude}
}

// SetPosition sets both coordinates and the location.
func (l *Listing) SetPosition(lat, lon float64) {
	l.Latitude, l.Longitude = &lat, &lon
	l.SyncLocation()
}

func (l *Listing) Deleted() bool { return l.DeletedAt != nil }

// Merge folds the fields incoming carries into existing, the way an update
// from a client is applied to the stored row. Name and description replace
// when non-empty, coordinates replace only as a pair, a deletion mark is
// copied but never cleared. CreatedAt and OwnerID are never touched.
func Merge(existing, incoming *Listing, now time.Time) {
	if incoming.Name != "" {
		existing.Name = incoming.Name
	}
	if incoming.Latitude != nil && incoming.Longitude != nil {
		existing.SetPosition(*incoming.Latitude, *incoming.Longitude)
	}
	if incoming.Description != "" {
		existing.Description = incoming.Description
	}
	if incoming.DeletedAt != nil {
		d := *incoming.DeletedAt
		existing.DeletedAt = &d
	}
	existing.UpdatedAt = &now
}

// OwnedBy is the ownership claim: the listing's owner equals subject.
// A listing without owner belongs to the nil subject only.
func OwnedBy(subject *int64) func(*Listing) bool {
	return func(l *Listing) bool {
		switch {
		case l.OwnerID == nil || subject == nil:
			return l.OwnerID == nil && subject == nil
		default:
			return *l.OwnerID == *subject
		}
	}
}

// ByID locates a row by primary key.
func ByID(id ident.String) records.Predicate {
	return records.Where("id = ?", string(id))
}

// Identify is the id of l as the sync engine keys it.
func Identify(l *Listing) ident.String { return ident.String(l.ID) }

func describe(l *Listing) logger.Fields {
	f := logger.Fields{"id": l.ID}
	if l.OwnerID != nil {
		f["owner"] = *l.OwnerID
	}
	return f
}

// Owner returns a pointer to id, for OwnedBy and filters.
func Owner(id int64) *int64 { return &id }
