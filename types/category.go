package types

import "fmt"

// Category identifies the image classification that an upload belongs to.
// The category decides which caption schema and metadata field set apply.
type Category string

const (
	CategoryCrisisMap  Category = "crisis_map"
	CategoryDroneImage Category = "drone_image"
)

// Categories returns all known categories.
func Categories() []Category {
	return []Category{CategoryCrisisMap, CategoryDroneImage}
}

// ParseCategory validates a caller-supplied category string.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryCrisisMap:
		return CategoryCrisisMap, nil
	case CategoryDroneImage:
		return CategoryDroneImage, nil
	default:
		return "", fmt.Errorf("unknown image category %q", s)
	}
}
