package messages

import "time"

// WarehouseScan is produced by the US warehouse intake stations.
type WarehouseScan struct {
	TrackingNumber string    `json:"tracking_number" validate:"required,max=64"`
	WarehouseID    *int64    `json:"warehouse_id,omitempty" validate:"omitempty,gt=0"`
	ImageCount     int       `json:"image_count" validate:"gte=0,lte=100"`
	Station        string    `json:"station,omitempty" validate:"max=64"`
	ScannedAt      time.Time `json:"scanned_at"`
}
