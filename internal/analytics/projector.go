// Package analytics derives category breakdowns and month-over-month
// insights from an expense set. The backend computes the same aggregations
// server-side; keeping this a pure function of the expense set is what lets
// the client produce identical output while offline.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"spendlog/internal/core"
)

type (
	CategoryStat struct {
		Category   core.Category `json:"category"`
		Amount     float64       `json:"amount"`
		Count      int           `json:"count"`
		Percentage float64       `json:"percentage"`
	}

	BreakdownResult struct {
		Breakdown  []CategoryStat `json:"breakdown"`
		TotalSpent float64        `json:"totalSpent"`
	}

	Insight struct {
		Category         string  `json:"category"`
		Message          string  `json:"message"`
		CurrentAmount    float64 `json:"currentAmount"`
		PreviousAmount   float64 `json:"previousAmount"`
		Difference       float64 `json:"difference"`
		PercentageChange float64 `json:"percentageChange"`
		Budget           float64 `json:"budget,omitempty"`
	}

	InsightsResult struct {
		Insights           []Insight `json:"insights"`
		CurrentMonthTotal  float64   `json:"currentMonthTotal"`
		PreviousMonthTotal float64   `json:"previousMonthTotal"`
		MonthlyBudget      float64   `json:"monthlyBudget"`
	}
)

// BudgetCategory tags the budget-usage insight.
const BudgetCategory = "Budget"

// CategoryBreakdown groups expenses by category over the inclusive
// [from, to] range (nil bounds are open). Entries are sorted by amount
// descending, category ascending on ties; percentage is amount over total,
// rounded to 2 decimals, 0 when nothing was spent.
func CategoryBreakdown(expenses []core.Expense, from, to *time.Time) BreakdownResult {
	type bucket struct {
		amount float64
		count  int
	}
	buckets := make(map[core.Category]*bucket)

	for _, e := range expenses {
		if from != nil && e.Date.Before(*from) {
			continue
		}
		if to != nil && e.Date.After(*to) {
			continue
		}
		b := buckets[e.Category]
		if b == nil {
			b = &bucket{}
			buckets[e.Category] = b
		}
		b.amount += e.Amount
		b.count++
	}

	var totalSpent float64
	stats := make([]CategoryStat, 0, len(buckets))
	for cat, b := range buckets {
		totalSpent += b.amount
		stats = append(stats, CategoryStat{Category: cat, Amount: b.amount, Count: b.count})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Amount != stats[j].Amount {
			return stats[i].Amount > stats[j].Amount
		}
		return stats[i].Category < stats[j].Category
	})

	for i := range stats {
		if totalSpent > 0 {
			stats[i].Percentage = round2(stats[i].Amount / totalSpent * 100)
		}
	}

	return BreakdownResult{Breakdown: stats, TotalSpent: totalSpent}
}

// Insights compares the current calendar month against the previous one,
// per category. Month boundaries are local-calendar in now's location,
// inclusive of end-of-day 23:59:59.999.
func Insights(expenses []core.Expense, now time.Time, monthlyBudget float64) InsightsResult {
	loc := now.Location()
	year, month := now.Year(), now.Month()

	curStart := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	curEnd := time.Date(year, month+1, 0, 23, 59, 59, int(999*time.Millisecond), loc)
	prevStart := time.Date(year, month-1, 1, 0, 0, 0, 0, loc)
	prevEnd := time.Date(year, month, 0, 23, 59, 59, int(999*time.Millisecond), loc)

	currentMap := sumByCategory(expenses, curStart, curEnd)
	previousMap := sumByCategory(expenses, prevStart, prevEnd)

	insights := []Insight{}
	for _, category := range sortedByAmount(currentMap) {
		currentAmount := currentMap[category]
		previousAmount := previousMap[category]

		if previousAmount > 0 {
			difference := currentAmount - previousAmount
			percentageChange := round2(difference / previousAmount * 100)
			if math.Abs(percentageChange) < 10 {
				continue
			}
			direction := "more"
			if difference < 0 {
				direction = "less"
			}
			insights = append(insights, Insight{
				Category: string(category),
				Message: fmt.Sprintf("You spent %.2f%% %s on %s this month",
					math.Abs(percentageChange), direction, category),
				CurrentAmount:    currentAmount,
				PreviousAmount:   previousAmount,
				Difference:       difference,
				PercentageChange: percentageChange,
			})
		} else if currentAmount > 0 {
			insights = append(insights, Insight{
				Category:         string(category),
				Message:          fmt.Sprintf("New spending category: %s", category),
				CurrentAmount:    currentAmount,
				Difference:       currentAmount,
				PercentageChange: 100,
			})
		}
	}

	var currentMonthTotal, previousMonthTotal float64
	for _, v := range currentMap {
		currentMonthTotal += v
	}
	for _, v := range previousMap {
		previousMonthTotal += v
	}

	if monthlyBudget > 0 {
		budgetUsed := round2(currentMonthTotal / monthlyBudget * 100)
		if budgetUsed >= 90 {
			insights = append(insights, Insight{
				Category: BudgetCategory,
				Message: fmt.Sprintf("You've used %s%% of your monthly budget",
					strconv.FormatFloat(budgetUsed, 'f', -1, 64)),
				CurrentAmount:    currentMonthTotal,
				Budget:           monthlyBudget,
				PercentageChange: budgetUsed,
			})
		}
	}

	return InsightsResult{
		Insights:           insights,
		CurrentMonthTotal:  currentMonthTotal,
		PreviousMonthTotal: previousMonthTotal,
		MonthlyBudget:      monthlyBudget,
	}
}

func sumByCategory(expenses []core.Expense, start, end time.Time) map[core.Category]float64 {
	out := make(map[core.Category]float64)
	for _, e := range expenses {
		if e.Date.Before(start) || e.Date.After(end) {
			continue
		}
		out[e.Category] += e.Amount
	}
	return out
}

// sortedByAmount yields categories by descending amount, name ascending on
// ties, so insight order is deterministic on both code paths.
func sortedByAmount(m map[core.Category]float64) []core.Category {
	cats := make([]core.Category, 0, len(m))
	for c := range m {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if m[cats[i]] != m[cats[j]] {
			return m[cats[i]] > m[cats[j]]
		}
		return cats[i] < cats[j]
	})
	return cats
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
