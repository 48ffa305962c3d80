package domain

// Question represents a trivia question.
type Question struct {
	ID         int64
	Question   string
	Answer     string
	CategoryID int64
	Difficulty int
}

// Category is a static reference entry that questions point to by id.
type Category struct {
	ID   int64
	Type string
}

// Filter restricts the question collection.
// SearchTerm takes precedence over CategoryID when both are set.
type Filter struct {
	CategoryID int64
	SearchTerm string
}

// Normalize drops the category restriction when a search term is present.
func (f Filter) Normalize() Filter {
	if f.SearchTerm != "" {
		f.CategoryID = 0
	}
	return f
}

// Page is a bounded, ordered slice of a filtered question collection.
type Page struct {
	Questions []Question
	// Total is the size of the filtered collection, not of the page.
	Total  int
	Number int
	Size   int
}

// DefaultCategories is the reference set seeded into an empty store.
var DefaultCategories = []Category{
	{ID: 1, Type: "Science"},
	{ID: 2, Type: "Art"},
	{ID: 3, Type: "Geography"},
	{ID: 4, Type: "History"},
	{ID: 5, Type: "Entertainment"},
	{ID: 6, Type: "Sports"},
}
