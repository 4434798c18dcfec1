package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"curvewarden/config"
	"curvewarden/internal/database"
	"curvewarden/internal/domain"
)

// tokenOutcome aggregates the closed positions observed for one mint into
// the same win-rate/avg-PnL shape the reference's per-symbol report used,
// substituting mint for futures symbol and bonding-curve PnL for realized
// futures PnL.
type tokenOutcome struct {
	Mint           string
	TotalPositions int
	Wins           int
	Losses         int
	TotalPnLBase   float64
	TotalHoldMs    int64
}

func (t tokenOutcome) winRate() float64 {
	if t.TotalPositions == 0 {
		return 0
	}
	return float64(t.Wins) / float64(t.TotalPositions) * 100
}

func (t tokenOutcome) avgPnL() float64 {
	if t.TotalPositions == 0 {
		return 0
	}
	return t.TotalPnLBase / float64(t.TotalPositions)
}

func (t tokenOutcome) avgHoldMinutes() float64 {
	if t.TotalPositions == 0 {
		return 0
	}
	return float64(t.TotalHoldMs) / float64(t.TotalPositions) / 60000
}

func main() {
	limit := flag.Int("limit", 500, "number of closed positions to replay")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("config load failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := database.NewDB(ctx, cfg.DB)
	if err != nil {
		fmt.Printf("database connect failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	repo := database.NewRepository(db)

	positions, err := repo.GetPositionHistory(ctx, *limit, 0)
	if err != nil {
		fmt.Printf("load position history failed: %v\n", err)
		os.Exit(1)
	}
	executions, err := repo.GetExecutionHistory(ctx, *limit, 0)
	if err != nil {
		fmt.Printf("load execution history failed: %v\n", err)
		os.Exit(1)
	}
	policies, err := repo.GetAllPolicies(ctx)
	if err != nil {
		fmt.Printf("load policies failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("================================================================================")
	fmt.Println("🛡️  CURVEWARDEN SIGNAL REPLAY")
	fmt.Println("================================================================================")
	fmt.Printf("Replaying %d positions, %d executions, %d policies\n\n", len(positions), len(executions), len(policies))

	byExecution := indexExecutionsByPosition(executions)
	outcomes := buildOutcomes(positions, byExecution)

	printOutcomeTable(outcomes)
	printExecutionSummary(executions)
	printPolicySummary(policies)
}

// indexExecutionsByPosition groups every execution by its position id so
// buildOutcomes can reconstruct realized PnL without a dedicated
// decision-outcome table.
func indexExecutionsByPosition(executions []*domain.ExecutionResult) map[string][]*domain.ExecutionResult {
	out := make(map[string][]*domain.ExecutionResult)
	for _, e := range executions {
		out[e.PositionID] = append(out[e.PositionID], e)
	}
	return out
}

func buildOutcomes(positions []*domain.PositionState, executionsByPosition map[string][]*domain.ExecutionResult) map[string]*tokenOutcome {
	outcomes := make(map[string]*tokenOutcome)

	for _, p := range positions {
		if p.Status != domain.PositionClosed {
			continue
		}
		o, ok := outcomes[p.MintAddress]
		if !ok {
			o = &tokenOutcome{Mint: p.MintAddress}
			outcomes[p.MintAddress] = o
		}
		o.TotalPositions++

		pnl := realizedPnL(p, executionsByPosition[p.ID])
		o.TotalPnLBase += pnl
		if pnl >= 0 {
			o.Wins++
		} else {
			o.Losses++
		}

		if p.ClosedAt != nil {
			o.TotalHoldMs += p.ClosedAt.Sub(p.OpenedAt).Milliseconds()
		}
	}
	return outcomes
}

// realizedPnL sums the AmountOut of every confirmed fill against the
// position's entry cost. Fills carry no buy/sell side, so every confirmed
// fill with an AmountOut counts as proceeds.
func realizedPnL(p *domain.PositionState, fills []*domain.ExecutionResult) float64 {
	pnl := -p.EntryAmountBase
	for _, f := range fills {
		if f.Status != domain.ExecConfirmed || f.AmountOut == nil {
			continue
		}
		pnl += float64(*f.AmountOut)
	}
	return pnl
}

func printOutcomeTable(outcomes map[string]*tokenOutcome) {
	sorted := make([]*tokenOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		sorted = append(sorted, o)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TotalPnLBase > sorted[j].TotalPnLBase })

	fmt.Println("--- Closed positions by mint -------------------------------------------------")
	fmt.Printf("%-46s %6s %6s %8s %10s %10s\n", "Mint", "Trades", "Win%", "AvgHold", "AvgPnL", "TotalPnL")
	for _, o := range sorted {
		fmt.Printf("%-46s %6d %5.1f%% %7.1fm %10.4f %10.4f\n",
			truncate(o.Mint, 46), o.TotalPositions, o.winRate(), o.avgHoldMinutes(), o.avgPnL(), o.TotalPnLBase)
	}
	if len(sorted) == 0 {
		fmt.Println("(no closed positions yet)")
	}
	fmt.Println()

	if len(sorted) > 0 {
		best, worst := sorted[0], sorted[len(sorted)-1]
		fmt.Printf("Best performer:  %s (%.4f total PnL)\n", truncate(best.Mint, 46), best.TotalPnLBase)
		fmt.Printf("Worst performer: %s (%.4f total PnL)\n", truncate(worst.Mint, 46), worst.TotalPnLBase)
		fmt.Println()
	}
}

func printExecutionSummary(executions []*domain.ExecutionResult) {
	var confirmed, failed, pending int
	for _, e := range executions {
		switch e.Status {
		case domain.ExecConfirmed:
			confirmed++
		case domain.ExecFailed:
			failed++
		default:
			pending++
		}
	}

	fmt.Println("--- Execution outcomes ---------------------------------------------------------")
	fmt.Printf("confirmed=%d failed=%d in-flight=%d\n\n", confirmed, failed, pending)
}

func printPolicySummary(policies []*domain.PolicyDefinition) {
	fmt.Println("--- Policies --------------------------------------------------------------------")
	for _, p := range policies {
		fmt.Printf("%-36s trigger=%-20s action=%-10s active=%v\n", p.ID, p.Trigger, p.Action, p.IsActive)
	}
	if len(policies) == 0 {
		fmt.Println("(no policies configured)")
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
