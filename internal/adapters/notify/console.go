package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/polyarb/internal/domain"
	"github.com/alejandrodnm/polyarb/internal/matching"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier.
type Console struct {
	out      io.Writer
	stake    float64
	table    bool
	validate bool
	clock    func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(stake float64, table, validate bool) *Console {
	return &Console{out: os.Stdout, stake: stake, table: table, validate: validate, clock: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table, validate bool) *Console {
	return &Console{out: w, stake: 100, table: table, validate: validate, clock: time.Now}
}

// Notify imprime el output en el modo configurado.
func (c *Console) Notify(_ context.Context, opportunities []domain.ArbitrageOpportunity, stats domain.PortfolioStats) error {
	now := c.clock().Format("15:04:05")
	if len(opportunities) == 0 {
		fmt.Fprintf(c.out, "[%s] no opportunities found\n", now)
		return nil
	}

	if c.table {
		c.printFull(now, opportunities, stats)
	} else {
		c.printCompact(now, opportunities, stats)
	}

	if c.validate {
		c.printValidation(opportunities)
	}
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(now string, opps []domain.ArbitrageOpportunity, stats domain.PortfolioStats) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d arb → best %.1f%% APR risk %.2f",
		now, len(opps), opps[0].AnnualizedReturn*100, stats.RiskScore)

	for i, opp := range opps {
		if i >= 4 {
			break
		}
		fmt.Fprintf(&sb, " | %s %s cost %.3f %.1f%% %dd",
			compactName(opportunityName(opp), 25), opp.Legs[0].Condition,
			opp.TotalCost, opp.AnnualizedReturn*100, opp.DaysUntilClose)
	}

	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime la tabla completa y el resumen del portfolio.
func (c *Console) printFull(now string, opps []domain.ArbitrageOpportunity, stats domain.PortfolioStats) {
	pairs, ecos := countBySource(opps)
	fmt.Fprintf(c.out, "\n[%s] %d opportunities (pairs:%d ecosystems:%d)\n",
		now, len(opps), pairs, ecos)

	c.printTable(opps)
	c.printSummary(stats)
}

// printTable imprime una fila por oportunidad.
func (c *Console) printTable(opps []domain.ArbitrageOpportunity) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Src", "Market", "Cond", "YES", "NO", "Cost", "Edge bps", "Period", "APR", "Days",
		fmt.Sprintf("Profit/$%.0f", c.stake))

	for i, opp := range opps {
		table.Append(
			fmt.Sprintf("%d", i+1),
			sourceIcon(opp.Source),
			truncate(opportunityName(opp), 40),
			truncate(opp.Legs[0].Condition, 16),
			fmt.Sprintf("%.3f@%s", opp.MinYes, opp.MinYesVenue),
			fmt.Sprintf("%.3f@%s", opp.MinNo, opp.MinNoVenue),
			fmt.Sprintf("%.3f", opp.TotalCost),
			fmt.Sprintf("%.0f", opp.EdgeBps()),
			fmt.Sprintf("%.2f%%", opp.PeriodReturn*100),
			fmt.Sprintf("%.1f%%", opp.AnnualizedReturn*100),
			fmt.Sprintf("%d", opp.DaysUntilClose),
			fmt.Sprintf("$%.2f", opp.ProfitOn(c.stake)),
		)
	}

	table.Render()

	fmt.Fprintln(c.out, "  YES/NO = ask más barato @ venue | Cost = YES + NO | Edge = (1 - cost) en bps")
	fmt.Fprintln(c.out, "  Period = (1 - cost) / cost | APR = period × 365 / days")
}

// printSummary imprime las métricas agregadas del conjunto.
func (c *Console) printSummary(stats domain.PortfolioStats) {
	capital := c.stake * float64(stats.Count)

	fmt.Fprintf(c.out, "\n=== PORTFOLIO (%d positions, $%.0f each) ===\n", stats.Count, c.stake)
	fmt.Fprintf(c.out, "  Capital:        $%.0f\n", capital)
	fmt.Fprintf(c.out, "  Mean APR:       %.1f%%\n", stats.MeanAnnualized*100)
	fmt.Fprintf(c.out, "  Mean days:      %.1f\n", stats.MeanDaysUntilClose)
	fmt.Fprintf(c.out, "  Profit/$100:    $%.2f total\n", stats.TotalProfitOn100)
	fmt.Fprintf(c.out, "  Risk:           %.2f (%s)\n\n", stats.RiskScore, riskLabel(stats.RiskScore))
}

// printValidation imprime el cálculo detallado de los top 3.
func (c *Console) printValidation(opps []domain.ArbitrageOpportunity) {
	top := opps
	if len(top) > 3 {
		top = opps[:3]
	}

	fmt.Fprintln(c.out, "=== VALIDATION (step-by-step) ===")

	for i, opp := range top {
		fmt.Fprintf(c.out, "\n#%d %s [%s %s]\n", i+1, opportunityName(opp), opp.Source, opp.SourceID)
		fmt.Fprintf(c.out, "  markets: %s\n", strings.Join(opp.MarketKeys(), " + "))
		for _, leg := range opp.Legs {
			fmt.Fprintf(c.out, "  %-28s %-12s YES %.3f  NO %.3f  closes %s\n",
				truncate(leg.MarketKey, 28), truncate(leg.Condition, 12),
				leg.BuyYes, leg.BuyNo, closeLabel(leg.CloseTime))
		}
		fmt.Fprintf(c.out, "  min YES %.3f (%s) + min NO %.3f (%s) = %.4f\n",
			opp.MinYes, opp.MinYesVenue, opp.MinNo, opp.MinNoVenue, opp.TotalCost)
		fmt.Fprintf(c.out, "  period = (1 - %.4f) / %.4f = %.4f\n", opp.TotalCost, opp.TotalCost, opp.PeriodReturn)
		fmt.Fprintf(c.out, "  APR    = %.4f × 365 / %d = %.2f%%\n", opp.PeriodReturn, opp.DaysUntilClose, opp.AnnualizedReturn*100)
		fmt.Fprintf(c.out, "  $%.0f → profit $%.2f at resolution\n", c.stake, opp.ProfitOn(c.stake))
	}
	fmt.Fprintln(c.out)
}

// PrintCandidates imprime los pares propuestos por el discovery.
func (c *Console) PrintCandidates(cands []matching.Candidate) {
	if len(cands) == 0 {
		fmt.Fprintln(c.out, "no candidate matches found")
		return
	}

	fmt.Fprintf(c.out, "\n=== CANDIDATE MATCHES (%d) ===\n", len(cands))
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Market A", "Market B", "Overall", "Title", "Date", "Cond", "Settle", "Cat")

	for i, cand := range cands {
		s := cand.Score
		table.Append(
			fmt.Sprintf("%d", i+1),
			truncate(cand.A.Key()+" "+cand.A.Title, 40),
			truncate(cand.B.Key()+" "+cand.B.Title, 40),
			fmt.Sprintf("%.3f", s.Overall),
			fmt.Sprintf("%.2f", s.Title),
			fmt.Sprintf("%.2f", s.Date),
			fmt.Sprintf("%.2f", s.Conditions),
			fmt.Sprintf("%.2f", s.Settlement),
			fmt.Sprintf("%.2f", s.Category),
		)
	}
	table.Render()
}

// PrintHistory imprime las oportunidades registradas en un rango.
func (c *Console) PrintHistory(records []domain.OpportunityRecord, from, to time.Time) {
	fmt.Fprintf(c.out, "\n=== HISTORY %s → %s (%d) ===\n",
		from.Format("2006-01-02 15:04"), to.Format("2006-01-02 15:04"), len(records))
	if len(records) == 0 {
		fmt.Fprintln(c.out, "  sin oportunidades registradas")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Src", "Market", "Cond", "Cost", "APR", "Peak APR", "Seen", "First", "Last")
	for i, rec := range records {
		opp := rec.Opportunity
		cond := ""
		if len(opp.Legs) > 0 {
			cond = opp.Legs[0].Condition
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			sourceIcon(opp.Source),
			truncate(opportunityName(opp), 40),
			truncate(cond, 16),
			fmt.Sprintf("%.3f", opp.TotalCost),
			fmt.Sprintf("%.1f%%", opp.AnnualizedReturn*100),
			fmt.Sprintf("%.1f%%", rec.PeakAnnualized*100),
			fmt.Sprintf("%d", rec.Sightings),
			opp.FirstSeenAt.Format("01-02 15:04"),
			rec.LastSeenAt.Format("01-02 15:04"),
		)
	}
	table.Render()
}

// PrintEcosystems imprime los ecosistemas propuestos por el discovery.
func (c *Console) PrintEcosystems(ecos []domain.Ecosystem) {
	if len(ecos) == 0 {
		return
	}

	fmt.Fprintf(c.out, "\n=== CANDIDATE ECOSYSTEMS (%d) ===\n", len(ecos))
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "ID", "Name", "Markets", "Mappings")
	for i, e := range ecos {
		table.Append(
			fmt.Sprintf("%d", i+1),
			e.ID,
			truncate(e.Name, 40),
			strings.Join(e.Markets, ", "),
			fmt.Sprintf("%d", len(e.Mappings)),
		)
	}
	table.Render()
}

// --- helpers ---

func countBySource(opps []domain.ArbitrageOpportunity) (pairs, ecosystems int) {
	for _, o := range opps {
		if o.Source == domain.SourceEcosystem {
			ecosystems++
		} else {
			pairs++
		}
	}
	return
}

func sourceIcon(s domain.OpportunitySource) string {
	if s == domain.SourceEcosystem {
		return "ECO"
	}
	return "PAIR"
}

// opportunityName usa el título del primer leg, o su clave si no hay título.
func opportunityName(o domain.ArbitrageOpportunity) string {
	if len(o.Legs) == 0 {
		return o.ID
	}
	name := o.Legs[0].Title
	if name == "" {
		name = o.Legs[0].MarketKey
	}
	if n := len(o.Legs); n > 1 {
		name = fmt.Sprintf("%s (+%d)", name, n-1)
	}
	return name
}

func riskLabel(r float64) string {
	switch {
	case r < 0.25:
		return "low"
	case r < 0.5:
		return "moderate"
	case r < 0.75:
		return "high"
	default:
		return "very high"
	}
}

func closeLabel(t time.Time) string {
	if t.IsZero() {
		return "?"
	}
	return t.UTC().Format("2006-01-02")
}

// truncate y compactName cortan por runas, no por bytes.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func compactName(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	cut := r[:maxLen]
	for i := len(cut) - 1; i > maxLen/2; i-- {
		if cut[i] == ' ' {
			cut = cut[:i]
			break
		}
	}
	return string(cut) + "…"
}
