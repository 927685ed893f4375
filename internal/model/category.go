package model

// CategoryEntry is one indexable category/subcategory combination for a
// tenant. Category sets are "expanded" so each entry carries at most one
// subcategory; a category with three subcategories yields three entries.
type CategoryEntry struct {
	CategoryID      string
	CategoryName    string
	SubCategoryID   string
	SubCategoryName string
	AccountID       string
	TransactionType TransactionType // empty means either type
}

// RetrievalMatch is a scored index hit. Matches are produced only by index
// queries and never persisted.
type RetrievalMatch struct {
	CategoryID      string
	CategoryName    string
	SubCategoryID   string
	SubCategoryName string
	Score           float64
}
