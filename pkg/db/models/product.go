package models

// Product mirrors the catalog entry referenced by stock rows and alerts.
type Product struct {
	ID          int64   `gorm:"column:id;primaryKey"`
	Name        string  `gorm:"column:name;not null"`
	Description *string `gorm:"column:description"`
}

func (Product) TableName() string { return "products" }
