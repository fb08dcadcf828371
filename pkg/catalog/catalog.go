// Пакет catalog описывает стартовый каталог продуктов,
// которым заполняется пустая коллекция.
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/rtemka/foodoo/domain"
	"gopkg.in/yaml.v2"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var ErrEmptyCatalog = errors.New("catalog has no items")

// Entry - одна позиция каталога.
type Entry struct {
	Name     string  `yaml:"name"`
	Calories string  `yaml:"calories"`
	Price    string  `yaml:"price"`
	Rate     float32 `yaml:"rate"`
}

type Catalog struct {
	Items []Entry `yaml:"items"`
}

// Parse разбирает каталог в формате YAML.
func Parse(b []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.Items) == 0 {
		return Catalog{}, ErrEmptyCatalog
	}
	for i, e := range c.Items {
		if e.Name == "" {
			return Catalog{}, fmt.Errorf("parse catalog: item %d has no name", i)
		}
	}
	return c, nil
}

// Default возвращает каталог, встроенный в бинарник.
func Default() Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(err) // встроенный файл проверяется тестами
	}
	return c
}

// Load читает каталог из файла path, при пустом path
// возвращает встроенный.
func Load(path string) (Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(b)
}

// Seed добавляет в repo все позиции каталога с нулевым StoredCount.
func (c Catalog) Seed(ctx context.Context, repo domain.Repository) (int, error) {
	for i, e := range c.Items {
		_, err := repo.AddItem(ctx, domain.FoodItem{
			Name:     e.Name,
			Calories: e.Calories,
			Price:    e.Price,
			Rate:     e.Rate,
		})
		if err != nil {
			return i, fmt.Errorf("seed %q: %w", e.Name, err)
		}
	}
	return len(c.Items), nil
}
