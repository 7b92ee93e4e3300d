package document

import (
	"fmt"
	"strings"
)

// Category groups documents by the kind of simulation output they hold.
type Category string

// Document categories.
const (
	CategoryDataset Category = "dataset" // HDF5 result sets
	CategorySave    Category = "save"    // ASTEC binary saving files
	CategoryData    Category = "data"    // tabular and raw data files
	CategoryLog     Category = "log"     // solver logs and captured streams
	CategoryConfig  Category = "config"  // input decks and configuration
	CategoryReport  Category = "report"  // human-readable reports
	CategoryOther   Category = "other"
)

// extCategories maps lower-case extensions (without the dot) to categories.
var extCategories = map[string]Category{
	"h5":   CategoryDataset,
	"hdf5": CategoryDataset,
	"bin":  CategorySave,
	"sav":  CategorySave,
	"dat":  CategoryData,
	"mdat": CategoryData,
	"csv":  CategoryData,
	"log":  CategoryLog,
	"out":  CategoryLog,
	"err":  CategoryLog,
	"toml": CategoryConfig,
	"yaml": CategoryConfig,
	"yml":  CategoryConfig,
	"json": CategoryConfig,
	"xml":  CategoryConfig,
	"ini":  CategoryConfig,
	"cfg":  CategoryConfig,
	"txt":  CategoryReport,
	"md":   CategoryReport,
	"pdf":  CategoryReport,
	"html": CategoryReport,
}

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{
		CategoryDataset, CategorySave, CategoryData, CategoryLog,
		CategoryConfig, CategoryReport, CategoryOther,
	}
}

// Classify returns the category for a file extension.
func Classify(ext string) Category {
	if c, ok := extCategories[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return c
	}
	return CategoryOther
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("document: unknown category %q", s)
}
