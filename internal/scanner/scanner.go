package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polyarb/internal/aggregator"
	"github.com/alejandrodnm/polyarb/internal/domain"
	"github.com/alejandrodnm/polyarb/internal/matching"
	"github.com/alejandrodnm/polyarb/internal/ports"
)

// Config contiene la configuración del scanner.
type Config struct {
	Filter FilterConfig

	// Discovery
	MinSimilarity         float64
	AutoApproveSimilarity float64 // 0 = nunca auto-aprobar
	AnalysisWorkers       int

	DefaultInterval time.Duration
	DryRun          bool
}

// DefaultConfig devuelve una configuración sensata para producción.
func DefaultConfig() Config {
	return Config{
		Filter:          DefaultFilterConfig(),
		MinSimilarity:   0.65,
		DefaultInterval: 30 * time.Second,
	}
}

// Venue es un feed de mercados con su intervalo de polling.
type Venue struct {
	Feed     ports.MarketFeed
	Interval time.Duration // 0 = Config.DefaultInterval
}

// ErrNoMarkets se devuelve cuando ningún feed entregó mercados.
var ErrNoMarkets = errors.New("no venue returned markets")

// Scanner es el orquestador principal: mantiene el último snapshot de cada
// venue, recalcula las oportunidades y las notifica y persiste.
type Scanner struct {
	cfg      Config
	venues   []Venue
	repo     ports.MatchRepository
	storage  ports.OpportunityStorage
	notifier ports.Notifier
	agg      *aggregator.Aggregator
	matcher  *matching.Matcher
	filter   *Filter
	clock    func() time.Time

	mu     sync.Mutex
	latest map[domain.Platform][]domain.Market

	publishMu sync.Mutex
}

// New crea un Scanner con todas las dependencias inyectadas. storage puede
// ser nil (sin histórico).
func New(
	cfg Config,
	venues []Venue,
	repo ports.MatchRepository,
	storage ports.OpportunityStorage,
	notifier ports.Notifier,
) *Scanner {
	return &Scanner{
		cfg:      cfg,
		venues:   venues,
		repo:     repo,
		storage:  storage,
		notifier: notifier,
		agg:      aggregator.New(repo, time.Now),
		matcher: matching.NewMatcher(matching.MatcherConfig{
			MinSimilarity: cfg.MinSimilarity,
			Workers:       cfg.AnalysisWorkers,
		}),
		filter: NewFilter(cfg.Filter),
		clock:  time.Now,
		latest: make(map[domain.Platform][]domain.Market),
	}
}

// Aggregator expone el conjunto vigente para lectores concurrentes.
func (s *Scanner) Aggregator() *aggregator.Aggregator {
	return s.agg
}

// Run arranca un poller por venue y el watcher del repositorio, hasta que el
// contexto se cancele. Cada snapshot nuevo de un venue recalcula el conjunto
// con el último snapshot de todos los demás.
// Si cfg.DryRun está activo, solo ejecuta un ciclo.
func (s *Scanner) Run(ctx context.Context) error {
	slog.Info("scanner starting",
		"venues", len(s.venues),
		"dry_run", s.cfg.DryRun,
	)

	if s.cfg.DryRun {
		_, err := s.RunOnce(ctx)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.agg.Watch(gctx)
	})
	for _, v := range s.venues {
		g.Go(func() error {
			s.poll(gctx, v)
			return nil
		})
	}

	err := g.Wait()
	slog.Info("scanner stopped")
	return err
}

// poll consulta un venue en su propio ticker.
func (s *Scanner) poll(ctx context.Context, v Venue) {
	interval := v.Interval
	if interval <= 0 {
		interval = s.cfg.DefaultInterval
	}
	platform := v.Feed.Platform()

	tick := func() {
		markets, err := v.Feed.FetchMarkets(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("venue fetch failed", "platform", platform, "err", err)
			}
			return
		}
		s.store(platform, markets)
		if err := s.publish(ctx); err != nil && ctx.Err() == nil {
			slog.Error("refresh failed", "platform", platform, "err", err)
		}
	}

	tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// RunOnce consulta todos los venues en paralelo, recalcula, notifica y
// persiste. Devuelve las oportunidades que pasan el filtro.
func (s *Scanner) RunOnce(ctx context.Context) ([]domain.ArbitrageOpportunity, error) {
	if err := s.fetchAll(ctx); err != nil {
		return nil, err
	}
	opps, stats, err := s.cycle(ctx)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, opps, stats)
	return opps, nil
}

// Discovery es el resultado de una pasada de Discover.
type Discovery struct {
	Candidates []matching.Candidate
	Ecosystems []domain.Ecosystem
}

// Discover busca pares de mercados equivalentes entre venues distintos y los
// guarda como matches pendientes (o aprobados si superan
// AutoApproveSimilarity). Los mercados enlazados en tres o más venues se
// proponen además como ecosistema pendiente. Lo que ya existe en el
// repositorio no se toca; se devuelve solo lo nuevo.
func (s *Scanner) Discover(ctx context.Context) (Discovery, error) {
	var out Discovery
	if err := s.fetchAll(ctx); err != nil {
		return out, err
	}

	existing, err := s.repo.ListMatches(ctx)
	if err != nil {
		return out, fmt.Errorf("scanner.Discover: list matches: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, m := range existing {
		known[m.ID] = true
	}

	snap := s.snapshotByPlatform()
	platforms := domain.Platforms()
	now := s.clock()

	var all []matching.Candidate
	approved := 0
	for i := 0; i < len(platforms); i++ {
		for j := i + 1; j < len(platforms); j++ {
			a, b := snap[platforms[i]], snap[platforms[j]]
			if len(a) == 0 || len(b) == 0 {
				continue
			}
			for _, cand := range s.matcher.FindCandidates(a, b) {
				all = append(all, cand)
				match := s.matcher.Propose(cand, now)
				if known[match.ID] {
					continue
				}
				if s.autoApprove(match) {
					match.Status = domain.StatusApproved
					approved++
				}
				if err := s.repo.UpsertMatch(ctx, match); err != nil {
					return out, fmt.Errorf("scanner.Discover: save %s: %w", match.ID, err)
				}
				known[match.ID] = true
				out.Candidates = append(out.Candidates, cand)
			}
		}
	}

	out.Ecosystems, err = s.discoverEcosystems(ctx, all, now)
	if err != nil {
		return out, err
	}

	slog.Info("discovery complete",
		"candidates", len(out.Candidates),
		"auto_approved", approved,
		"ecosystems", len(out.Ecosystems),
	)
	return out, nil
}

// discoverEcosystems agrupa, para cada mercado, su mejor candidato en cada
// otro venue. Si el grupo cubre tres o más venues y comparte al menos una
// condición, se guarda como ecosistema pendiente.
func (s *Scanner) discoverEcosystems(ctx context.Context, cands []matching.Candidate, now time.Time) ([]domain.Ecosystem, error) {
	type link struct {
		market domain.Market
		score  float64
	}
	best := make(map[string]map[domain.Platform]link)
	byKey := make(map[string]domain.Market)
	pick := func(from, to domain.Market, score float64) {
		byKey[from.Key()] = from
		links, ok := best[from.Key()]
		if !ok {
			links = make(map[domain.Platform]link)
			best[from.Key()] = links
		}
		if cur, ok := links[to.Platform]; !ok || score > cur.score {
			links[to.Platform] = link{market: to, score: score}
		}
	}
	for _, c := range cands {
		pick(c.A, c.B, c.Score.Overall)
		pick(c.B, c.A, c.Score.Overall)
	}
	if len(best) == 0 {
		return nil, nil
	}

	existing, err := s.repo.ListEcosystems(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanner.Discover: list ecosystems: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, e := range existing {
		known[e.ID] = true
	}

	pivots := make([]string, 0, len(best))
	for k := range best {
		pivots = append(pivots, k)
	}
	slices.Sort(pivots)

	var out []domain.Ecosystem
	for _, key := range pivots {
		links := best[key]
		if len(links) < 2 {
			continue
		}
		pivot := byKey[key]
		group := []domain.Market{pivot}
		for _, p := range domain.Platforms() {
			if l, ok := links[p]; ok {
				group = append(group, l.market)
			}
		}

		keys := make([]string, 0, len(group))
		for _, m := range group {
			keys = append(keys, m.Key())
		}
		id := domain.EcosystemID(keys)
		if known[id] {
			continue
		}
		known[id] = true

		mappings := matching.SuggestEcosystemMappings(group)
		if len(mappings) == 0 {
			continue
		}
		eco := domain.Ecosystem{
			ID:        id,
			Name:      pivot.Title,
			Markets:   keys,
			Mappings:  mappings,
			Status:    domain.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.UpsertEcosystem(ctx, eco); err != nil {
			return out, fmt.Errorf("scanner.Discover: save ecosystem %s: %w", id, err)
		}
		out = append(out, eco)
	}
	return out, nil
}

func (s *Scanner) autoApprove(m domain.MarketMatch) bool {
	if s.cfg.AutoApproveSimilarity <= 0 || m.Score.Overall < s.cfg.AutoApproveSimilarity {
		return false
	}
	for _, mp := range m.Mappings {
		if mp.Relationship == domain.RelationSame {
			return true
		}
	}
	return false
}

// fetchAll consulta todos los venues en paralelo. Un venue que falla
// conserva su snapshot anterior; solo es error si no respondió ninguno.
func (s *Scanner) fetchAll(ctx context.Context) error {
	results := make([][]domain.Market, len(s.venues))
	errs := make([]error, len(s.venues))

	var g errgroup.Group
	for i, v := range s.venues {
		g.Go(func() error {
			results[i], errs[i] = v.Feed.FetchMarkets(ctx)
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for i, v := range s.venues {
		if errs[i] != nil {
			slog.Warn("venue fetch failed", "platform", v.Feed.Platform(), "err", errs[i])
			continue
		}
		s.store(v.Feed.Platform(), results[i])
		ok++
	}
	if ok == 0 && len(s.venues) > 0 {
		return fmt.Errorf("scanner.fetchAll: %w: %w", ErrNoMarkets, errors.Join(errs...))
	}
	return nil
}

func (s *Scanner) store(p domain.Platform, markets []domain.Market) {
	s.mu.Lock()
	s.latest[p] = markets
	s.mu.Unlock()
	slog.Debug("venue snapshot stored", "platform", p, "markets", len(markets))
}

func (s *Scanner) snapshotByPlatform() map[domain.Platform][]domain.Market {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Platform][]domain.Market, len(s.latest))
	for p, ms := range s.latest {
		out[p] = ms
	}
	return out
}

func (s *Scanner) allMarkets() []domain.Market {
	snap := s.snapshotByPlatform()
	var out []domain.Market
	for _, p := range domain.Platforms() {
		out = append(out, snap[p]...)
	}
	return out
}

// publish recalcula y emite. Los pollers concurrentes se serializan para que
// las notificaciones no se intercalen.
func (s *Scanner) publish(ctx context.Context) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	opps, stats, err := s.cycle(ctx)
	if err != nil {
		return err
	}
	s.emit(ctx, opps, stats)
	return nil
}

// cycle hace refresh → filter y devuelve las oportunidades con sus stats.
func (s *Scanner) cycle(ctx context.Context) ([]domain.ArbitrageOpportunity, domain.PortfolioStats, error) {
	start := s.clock()
	all, err := s.agg.Refresh(ctx, s.allMarkets(), start)
	if err != nil {
		return nil, domain.PortfolioStats{}, fmt.Errorf("scanner.cycle: %w", err)
	}
	opps := s.filter.Apply(all)
	stats := domain.ComputePortfolioStats(opps)

	slog.Info("scan cycle complete",
		"opportunities", len(all),
		"kept", len(opps),
		"mean_apr", stats.MeanAnnualized,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return opps, stats, nil
}

// emit notifica y persiste. Los fallos se loguean y no cortan el ciclo.
func (s *Scanner) emit(ctx context.Context, opps []domain.ArbitrageOpportunity, stats domain.PortfolioStats) {
	if err := s.notifier.Notify(ctx, opps, stats); err != nil {
		slog.Warn("notifier error", "err", err)
	}
	if s.storage != nil {
		if err := s.storage.SaveOpportunities(ctx, opps, stats); err != nil {
			slog.Warn("storage error", "err", err)
		}
	}
}
