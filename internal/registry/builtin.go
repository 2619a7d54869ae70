package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
	"github.com/JakeFAU/melody-hunter/internal/strategy"
	"github.com/JakeFAU/melody-hunter/internal/strategy/kugou"
	"github.com/JakeFAU/melody-hunter/internal/strategy/netease"
	"github.com/JakeFAU/melody-hunter/internal/strategy/qq"
)

// Builtin returns a registry with every shipped strategy bound.
func Builtin(platforms crawler.PlatformStore) *Registry {
	r := New(platforms)
	for name, factory := range map[string]strategy.Factory{
		netease.Name: netease.New,
		qq.Name:      qq.New,
		kugou.Name:   kugou.New,
	} {
		if err := r.Register(name, factory); err != nil {
			panic(err)
		}
	}
	return r
}

// DefaultPlatforms is the seed catalog. kuwo and migu are listed but have no strategy yet.
func DefaultPlatforms(now time.Time) []crawler.Platform {
	return []crawler.Platform{
		{Name: netease.Name, BaseURL: netease.DefaultBaseURL, Active: true, CreatedAt: now},
		{Name: qq.Name, BaseURL: qq.DefaultBaseURL, Active: true, CreatedAt: now},
		{Name: kugou.Name, BaseURL: kugou.DefaultBaseURL, Active: true, CreatedAt: now},
		{Name: "kuwo", BaseURL: "https://www.kuwo.cn", Active: false, CreatedAt: now},
		{Name: "migu", BaseURL: "https://www.migu.cn", Active: false, CreatedAt: now},
	}
}

// SeedResult reports what Seed changed.
type SeedResult struct {
	Created int
	Updated int
}

// Seed upserts the default catalog.
func Seed(ctx context.Context, store crawler.PlatformStore, now time.Time) (SeedResult, error) {
	var res SeedResult
	for _, p := range DefaultPlatforms(now) {
		created, err := store.UpsertPlatform(ctx, p)
		if err != nil {
			return res, fmt.Errorf("seed platform %s: %w", p.Name, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res, nil
}
