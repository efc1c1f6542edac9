// Package ledgertest opens throwaway sqlite ledgers for package tests.
package ledgertest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ferramas/ferramas-backend/pkg/db/models"
)

// Open returns an isolated in-memory database with the ledger schema applied.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:ledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(&models.Product{}, &models.Branch{}, &models.StockLevel{}, &models.PaymentIntent{}); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

// SeedStock creates the product, the branch and their stock row.
func SeedStock(t testing.TB, conn *gorm.DB, productID, branchID int64, quantity int, price string) {
	t.Helper()
	if err := conn.Save(&models.Product{ID: productID, Name: "Taladro percutor"}).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if err := conn.Save(&models.Branch{ID: branchID, Name: "Sucursal Centro", Location: "Santiago"}).Error; err != nil {
		t.Fatalf("seed branch: %v", err)
	}
	stock := &models.StockLevel{
		ProductID: productID,
		BranchID:  branchID,
		Quantity:  quantity,
		Price:     decimal.RequireFromString(price),
	}
	if err := conn.Save(stock).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

// SetStock overwrites the quantity of an existing stock row.
func SetStock(t testing.TB, conn *gorm.DB, productID, branchID int64, quantity int) {
	t.Helper()
	err := conn.Model(&models.StockLevel{}).
		Where("product_id = ? AND branch_id = ?", productID, branchID).
		Update("quantity", quantity).Error
	if err != nil {
		t.Fatalf("set stock: %v", err)
	}
}

// StockQuantity reads the current quantity for a stock row.
func StockQuantity(t testing.TB, conn *gorm.DB, productID, branchID int64) int {
	t.Helper()
	var stock models.StockLevel
	if err := conn.Where("product_id = ? AND branch_id = ?", productID, branchID).First(&stock).Error; err != nil {
		t.Fatalf("read stock: %v", err)
	}
	return stock.Quantity
}

// Intent reads an intent by token.
func Intent(t testing.TB, conn *gorm.DB, token string) models.PaymentIntent {
	t.Helper()
	var intent models.PaymentIntent
	if err := conn.Where("token = ?", token).First(&intent).Error; err != nil {
		t.Fatalf("read intent: %v", err)
	}
	return intent
}

// CountIntents returns how many intents share a buy order.
func CountIntents(t testing.TB, conn *gorm.DB, buyOrder string) int64 {
	t.Helper()
	var count int64
	if err := conn.Model(&models.PaymentIntent{}).Where("buy_order = ?", buyOrder).Count(&count).Error; err != nil {
		t.Fatalf("count intents: %v", err)
	}
	return count
}
