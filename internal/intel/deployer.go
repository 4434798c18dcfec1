// Package intel implements the Intelligence Stores: deployer reputation
// scoring, the wallet relationship graph, and the learned pattern
// database, all backed by internal/cache's Redis primitives.
package intel

import (
	"context"
	"fmt"
	"math"
	"time"

	"curvewarden/internal/cache"
	"curvewarden/internal/domain"
)

const (
	deployerProfileTTL = 24 * time.Hour
	deployerIndexKey   = "intel:deployers:byscore"
)

func deployerProfileKey(address string) string { return fmt.Sprintf("intel:deployer:%s", address) }
func mintDeployerKey(mint string) string       { return fmt.Sprintf("intel:mint:%s:deployer", mint) }

// DeployerScoreEngine tracks deployer reputation and computes the
// composite launch-quality score consulted by the scout and analyst.
type DeployerScoreEngine struct {
	cache *cache.Service
}

// NewDeployerScoreEngine constructs a DeployerScoreEngine.
func NewDeployerScoreEngine(c *cache.Service) *DeployerScoreEngine {
	return &DeployerScoreEngine{cache: c}
}

// computeScore is the pure scoring function. It penalizes rug rate and
// wallet clustering, rewards launch history and longevity, and decays
// recency past a week of inactivity. The result is clamped to [0,100]
// and rounded.
func computeScore(profile domain.DeployerProfile, connectedWallets int, daysSinceLastSeen float64) float64 {
	lifespanHours := profile.AvgTokenLifespanMs / (1000 * 60 * 60)

	score := 50.0
	score -= 40 * profile.RugRate
	score += math.Min(15, float64(profile.TotalLaunches)*1.5)
	score += math.Min(20, lifespanHours*2)
	score -= math.Min(15, float64(connectedWallets)*3)
	score -= math.Min(10, math.Max(0, daysSinceLastSeen-7)*0.5)

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return math.Round(score)
}

// GetProfile fetches a deployer's profile, returning (zero, false) if
// unknown.
func (e *DeployerScoreEngine) GetProfile(ctx context.Context, address string) (domain.DeployerProfile, bool) {
	var p domain.DeployerProfile
	if err := e.cache.GetJSON(ctx, deployerProfileKey(address), &p); err != nil {
		return domain.DeployerProfile{}, false
	}
	return p, true
}

// RecordLaunch upserts the deployer's profile for a new launch,
// deduplicating connectedWallets into the profile's existing set,
// recomputing the score, and re-persisting under a 24h expiry with a
// sorted-set index entry for leaderboard queries.
func (e *DeployerScoreEngine) RecordLaunch(ctx context.Context, deployer, mint string, connectedWallets []string) domain.DeployerProfile {
	profile, _ := e.GetProfile(ctx, deployer)
	profile.Address = deployer
	profile.TotalLaunches++

	seen := make(map[string]bool, len(profile.ConnectedWallets))
	for _, w := range profile.ConnectedWallets {
		seen[w] = true
	}
	for _, w := range connectedWallets {
		if !seen[w] {
			seen[w] = true
			profile.ConnectedWallets = append(profile.ConnectedWallets, w)
		}
	}

	profile.LastSeen = time.Now()
	profile.Score = computeScore(profile, len(profile.ConnectedWallets), 0)

	if err := e.cache.SetJSON(ctx, deployerProfileKey(deployer), profile, deployerProfileTTL); err == nil {
		_ = e.cache.ZAdd(ctx, deployerIndexKey, profile.Score, deployer)
		_ = e.cache.Set(ctx, mintDeployerKey(mint), []byte(deployer), deployerProfileTTL)
	}
	return profile
}

// DeployerForMint looks up the deployer address recorded for a mint at
// launch time, used by the sentinel agent to locate the dev wallet to
// monitor for a position without re-deriving it from chain history.
func (e *DeployerScoreEngine) DeployerForMint(ctx context.Context, mint string) (string, bool) {
	raw, err := e.cache.Get(ctx, mintDeployerKey(mint))
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

// RecordRug bumps rugCount/rugRate for deployer, blends lifespanMs into
// the running mean AvgTokenLifespanMs, recomputes score, and re-persists.
func (e *DeployerScoreEngine) RecordRug(ctx context.Context, deployer string, lifespanMs float64) domain.DeployerProfile {
	profile, ok := e.GetProfile(ctx, deployer)
	if !ok {
		profile.Address = deployer
	}
	profile.RugCount++
	if profile.TotalLaunches > 0 {
		profile.RugRate = float64(profile.RugCount) / float64(profile.TotalLaunches)
	}

	n := float64(profile.RugCount)
	profile.AvgTokenLifespanMs = (profile.AvgTokenLifespanMs*(n-1) + lifespanMs) / n

	daysSinceLastSeen := time.Since(profile.LastSeen).Hours() / 24
	profile.Score = computeScore(profile, len(profile.ConnectedWallets), daysSinceLastSeen)

	if err := e.cache.SetJSON(ctx, deployerProfileKey(deployer), profile, deployerProfileTTL); err == nil {
		_ = e.cache.ZAdd(ctx, deployerIndexKey, profile.Score, deployer)
	}
	return profile
}

// TopDeployers returns the n highest-scoring deployer addresses.
func (e *DeployerScoreEngine) TopDeployers(ctx context.Context, n int) ([]string, error) {
	return e.cache.ZRevRange(ctx, deployerIndexKey, 0, int64(n)-1)
}
