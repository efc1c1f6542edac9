package models

// Branch is a physical store holding stock.
type Branch struct {
	ID       int64  `gorm:"column:id;primaryKey"`
	Name     string `gorm:"column:name;not null"`
	Location string `gorm:"column:location;not null;default:''"`
}

func (Branch) TableName() string { return "branches" }
