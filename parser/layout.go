package parser

// Layout names the CSS selectors of the supported listing markup.
type Layout struct {
	Card          string
	Title         string
	Capacity      string
	Image         string
	ColourSwatch  string
	ColourAttr    string
	Price         string
	Details       string
	Pagination    string
	ActiveClass   string
	PageParameter string
}

// DefaultLayout matches the smartphone catalog markup.
//
// Price and detail selectors list both the compound-class form and the nested
// form; the site renders either depending on the card.
func DefaultLayout() Layout {
	return Layout{
		Card:          ".product",
		Title:         ".product-name",
		Capacity:      ".product-capacity",
		Image:         "img",
		ColourSwatch:  ".my-4 .px-2 span",
		ColourAttr:    "data-colour",
		Price:         ".my-8.block, .my-8 .block",
		Details:       ".bg-white > .my-4.text-sm, .bg-white > .my-4 .text-sm",
		Pagination:    "#pages",
		ActiveClass:   "active",
		PageParameter: "page",
	}
}
