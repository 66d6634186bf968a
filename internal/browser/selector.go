package browser

import (
	"github.com/chromedp/chromedp"
)

// SelectorKind identifies the element-locating strategy for a Selector.
type SelectorKind string

const (
	// ByCSS locates elements with a CSS query.
	ByCSS SelectorKind = "css"
	// ByXPath locates elements with an XPath expression. Text-content
	// fallbacks use this kind with a contains() expression.
	ByXPath SelectorKind = "xpath"
	// ByID locates a single element by its id attribute.
	ByID SelectorKind = "id"
)

// Selector pairs a query string with the strategy used to resolve it.
type Selector struct {
	Query string
	Kind  SelectorKind
}

// CSS builds a CSS selector.
func CSS(query string) Selector { return Selector{Query: query, Kind: ByCSS} }

// XPath builds an XPath selector.
func XPath(query string) Selector { return Selector{Query: query, Kind: ByXPath} }

// ID builds an element-id selector.
func ID(query string) Selector { return Selector{Query: query, Kind: ByID} }

// opt maps the selector kind onto a chromedp query option.
func (s Selector) opt() chromedp.QueryOption {
	switch s.Kind {
	case ByXPath:
		return chromedp.BySearch
	case ByID:
		return chromedp.ByID
	default:
		return chromedp.ByQuery
	}
}

func (s Selector) String() string {
	return string(s.Kind) + ":" + s.Query
}
