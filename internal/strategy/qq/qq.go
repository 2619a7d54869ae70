// Package qq registers QQ Music (QQ音乐). Crawling is not built yet; runs
// log their start and finish with an empty tally.
package qq

import (
	"github.com/JakeFAU/melody-hunter/internal/crawler"
	"github.com/JakeFAU/melody-hunter/internal/strategy"
)

// Name is the registry name of the platform.
const Name = "qq"

// DefaultBaseURL is the seed base URL.
const DefaultBaseURL = "https://y.qq.com"

// New is the strategy.Factory for QQ Music.
func New(deps strategy.Deps) crawler.Strategy {
	return strategy.Placeholder{Label: Name, Log: deps.Log}
}
