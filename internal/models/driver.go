package models

import (
	"time"

	"github.com/aditya/towbid/internal/geo"
	"github.com/lib/pq"
)

// Driver status constants
const (
	DriverStatusOffline = "offline"
	DriverStatusOnline  = "online"
)

// Service types a request can ask for and a driver can declare as a specialty.
const (
	ServiceTow          = "tow"
	ServiceWinch        = "winch"
	ServiceJumpStart    = "jump_start"
	ServiceTireChange   = "tire_change"
	ServiceFuelDelivery = "fuel_delivery"
	ServiceLockout      = "lockout"
)

var ServiceTypes = []string{
	ServiceTow,
	ServiceWinch,
	ServiceJumpStart,
	ServiceTireChange,
	ServiceFuelDelivery,
	ServiceLockout,
}

func IsValidServiceType(s string) bool {
	for _, t := range ServiceTypes {
		if t == s {
			return true
		}
	}
	return false
}

// Driver is the operator profile. ID is the driver's user id.
type Driver struct {
	ID            string         `db:"id" json:"id"`
	VehicleNumber string         `db:"vehicle_number" json:"vehicle_number"`
	Specialties   pq.StringArray `db:"specialties" json:"specialties"`
	Status        string         `db:"status" json:"status"`
	Rating        float64        `db:"rating" json:"rating"`
	RatingCount   int            `db:"rating_count" json:"rating_count"`
	TotalTrips    int            `db:"total_trips" json:"total_trips"`
	CurrentLat    *float64       `db:"current_lat" json:"current_lat,omitempty"`
	CurrentLng    *float64       `db:"current_lng" json:"current_lng,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

type CreateDriverRequest struct {
	UserID        string   `json:"user_id" validate:"required,uuid"`
	VehicleNumber string   `json:"vehicle_number" validate:"required,max=20"`
	Specialties   []string `json:"specialties" validate:"required,min=1,dive,oneof=tow winch jump_start tire_change fuel_delivery lockout"`
}

type UpdateDriverLocationRequest struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

type UpdateDriverStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=online offline"`
}

func (d *Driver) HasSpecialty(serviceType string) bool {
	for _, s := range d.Specialties {
		if s == serviceType {
			return true
		}
	}
	return false
}

// Location returns the last reported position, if any.
func (d *Driver) Location() (geo.Point, bool) {
	if d.CurrentLat == nil || d.CurrentLng == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *d.CurrentLat, Lng: *d.CurrentLng}, true
}

// Candidate adapts the driver for a geo scan.
func (d *Driver) Candidate() (geo.Candidate, bool) {
	loc, ok := d.Location()
	if !ok {
		return geo.Candidate{}, false
	}
	return geo.Candidate{ID: d.ID, Location: loc, Services: d.Specialties}, true
}
