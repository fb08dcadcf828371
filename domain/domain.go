package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("food item not found")
	ErrInvalidID = errors.New("invalid food item id")
)

// FoodItem - продукт из каталога. ID назначает хранилище,
// StoredCount - сколько порций продукта отмечено как съеденные сегодня.
type FoodItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name" validate:"required"`
	Calories    string  `json:"calories"`
	Price       string  `json:"price"`
	Rate        float32 `json:"rate" validate:"gte=0,lte=5"`
	StoredCount int     `json:"storedCount" validate:"gte=0"`
}

type Repository interface {
	Items(context.Context) ([]FoodItem, error)                      // Items возвращает все объекты, упорядоченные по имени.
	TopStored(ctx context.Context, limit int) ([]FoodItem, error)   // TopStored возвращает limit объектов с наибольшим StoredCount.
	Item(ctx context.Context, id string) (FoodItem, error)          // Item находит объект по id.
	AddItem(ctx context.Context, item FoodItem) (string, error)     // AddItem добавляет объект и возвращает его id.
	UpdateItem(ctx context.Context, item FoodItem) error            // UpdateItem обновляет описание, кроме StoredCount.
	SetStoredCount(ctx context.Context, id string, count int) error // SetStoredCount обновляет только поле storedCount.
	DeleteItem(ctx context.Context, id string) error                // DeleteItem удаляет из БД объект по id.
	Close() error
}

// TotalStored считает сумму StoredCount по всем объектам.
func TotalStored(items []FoodItem) int {
	var n int
	for i := range items {
		if items[i].StoredCount > 0 {
			n += items[i].StoredCount
		}
	}
	return n
}
