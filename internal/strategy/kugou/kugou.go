// Package kugou registers Kugou Music (酷狗音乐). Crawling is not built yet.
package kugou

import (
	"github.com/JakeFAU/melody-hunter/internal/crawler"
	"github.com/JakeFAU/melody-hunter/internal/strategy"
)

// Name is the registry name of the platform.
const Name = "kugou"

// DefaultBaseURL is the seed base URL.
const DefaultBaseURL = "https://www.kugou.com"

// New is the strategy.Factory for Kugou.
func New(deps strategy.Deps) crawler.Strategy {
	return strategy.Placeholder{Label: Name, Log: deps.Log}
}
