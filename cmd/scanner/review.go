package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polyarb/internal/adapters/notify"
	"github.com/alejandrodnm/polyarb/internal/adapters/storage"
	"github.com/alejandrodnm/polyarb/internal/domain"
)

// listMatches imprime los matches guardados con su estado y mappings.
func listMatches(ctx context.Context, store *storage.SQLiteStorage, w io.Writer) error {
	matches, err := store.ListMatches(ctx)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Fprintln(w, "no matches stored, run with -discover first")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Status", "Market A", "Market B", "Score", "Mappings")
	for _, m := range matches {
		table.Append(
			m.ID,
			string(m.Status),
			m.MarketA,
			m.MarketB,
			fmt.Sprintf("%.3f", m.Score.Overall),
			mappingSummary(m.Mappings),
		)
	}
	table.Render()
	return nil
}

// listEcosystems imprime los ecosistemas guardados con su estado y mappings.
func listEcosystems(ctx context.Context, store *storage.SQLiteStorage, w io.Writer) error {
	ecos, err := store.ListEcosystems(ctx)
	if err != nil {
		return err
	}
	if len(ecos) == 0 {
		fmt.Fprintln(w, "no ecosystems stored, run with -discover against three or more venues")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Status", "Name", "Markets", "Mappings")
	for _, e := range ecos {
		table.Append(
			e.ID,
			string(e.Status),
			e.Name,
			strings.Join(e.Markets, ", "),
			mappingSummary(e.Mappings),
		)
	}
	table.Render()
	return nil
}

// setStatus cambia el estado de revisión de un match, o del ecosistema con
// ese id si no hay match. Aprobar sin ningún mapping "same" no produce
// oportunidades, se avisa pero se permite.
func setStatus(ctx context.Context, store *storage.SQLiteStorage, id string, status domain.MatchStatus) error {
	m, err := store.GetMatch(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return setEcosystemStatus(ctx, store, id, status)
	}
	if err != nil {
		return err
	}
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	if err := store.UpsertMatch(ctx, m); err != nil {
		return err
	}

	if status == domain.StatusApproved && !hasSame(m.Mappings) {
		slog.Warn("approved match has no 'same' mapping, it will not be priced", "id", id)
	}
	slog.Info("match updated", "id", id, "status", status)
	return nil
}

func setEcosystemStatus(ctx context.Context, store *storage.SQLiteStorage, id string, status domain.MatchStatus) error {
	e, err := store.GetEcosystem(ctx, id)
	if err != nil {
		return err
	}
	e.Status = status
	e.UpdatedAt = time.Now().UTC()
	if err := store.UpsertEcosystem(ctx, e); err != nil {
		return err
	}

	if status == domain.StatusApproved && !hasSame(e.Mappings) {
		slog.Warn("approved ecosystem has no 'same' mapping, it will not be priced", "id", id)
	}
	slog.Info("ecosystem updated", "id", id, "status", status)
	return nil
}

func printHistory(ctx context.Context, store *storage.SQLiteStorage, notifier *notify.Console, window time.Duration) error {
	to := time.Now().UTC()
	from := to.Add(-window)
	records, err := store.GetHistory(ctx, from, to)
	if err != nil {
		return err
	}
	notifier.PrintHistory(records, from, to)
	return nil
}

func mappingSummary(mappings []domain.ConditionMapping) string {
	counts := make(map[domain.Relationship]int)
	for _, mp := range mappings {
		counts[mp.Relationship]++
	}
	return fmt.Sprintf("%d (same:%d)", len(mappings), counts[domain.RelationSame])
}

func hasSame(mappings []domain.ConditionMapping) bool {
	for _, mp := range mappings {
		if mp.Relationship == domain.RelationSame {
			return true
		}
	}
	return false
}
