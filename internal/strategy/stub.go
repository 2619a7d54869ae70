package strategy

import (
	"context"
	"fmt"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
)

// Placeholder is a strategy for platforms whose crawling is not built yet.
// It logs the start of the run and returns a zero tally for every known kind.
type Placeholder struct {
	Label string
	Log   crawler.TaskLog
}

// Run implements crawler.Strategy.
func (p Placeholder) Run(ctx context.Context, task crawler.Task) (crawler.Tally, error) {
	if !task.Kind.Valid() {
		return crawler.Tally{}, Unsupported(task.Kind)
	}
	p.Log.Log(ctx, crawler.LogLevelInfo, fmt.Sprintf("%s crawl started, task type: %s", p.Label, task.Kind))
	p.Log.Log(ctx, crawler.LogLevelInfo, fmt.Sprintf("%s crawler is not implemented yet", p.Label))
	return crawler.Tally{}, nil
}
