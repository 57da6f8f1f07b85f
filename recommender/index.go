// Package recommender scores catalog products against cart contents with a
// content-based tf-idf model.
package recommender

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"abandonment-service/models"
	"abandonment-service/sanitizer"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrEmptyCatalog is returned by Load when the catalog has no in-stock products.
var ErrEmptyCatalog = errors.New("catalog has no in-stock products")

// CatalogSource supplies the in-stock catalog snapshot.
type CatalogSource interface {
	InStockProducts(ctx context.Context) ([]models.Product, error)
}

// Policy holds the hand-tuned weights of the scorer.
type Policy struct {
	// NameRepeat and CategoryRepeat weight a document's name and category by repetition.
	NameRepeat     int
	CategoryRepeat int

	SameCategoryBoost      float64
	CrossCategoryThreshold float64
	CrossCategoryPenalty   float64
	BackfillScore          float64

	// CandidateFactor * k catalog rows are examined per cart item.
	CandidateFactor int
	MaxDocFrequency float64
}

func DefaultPolicy() Policy {
	return Policy{
		NameRepeat:             3,
		CategoryRepeat:         4,
		SameCategoryBoost:      1.5,
		CrossCategoryThreshold: 0.5,
		CrossCategoryPenalty:   0.3,
		BackfillScore:          0.3,
		CandidateFactor:        2,
		MaxDocFrequency:        0.9,
	}
}

type snapshot struct {
	products []models.Product
	// space is nil when fitting failed; Recommend then uses the fallback.
	space *vectorSpace
}

// Index is the in-memory catalog cache plus its fitted vector space.
// Rebuilds swap the whole snapshot, so readers never block.
type Index struct {
	source    CatalogSource
	sanitizer *sanitizer.Sanitizer
	policy    Policy
	logger    *zap.Logger

	loadMu sync.Mutex
	state  atomic.Pointer[snapshot]
	stale  atomic.Bool
}

func NewIndex(source CatalogSource, san *sanitizer.Sanitizer, policy Policy, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	if san == nil {
		san = sanitizer.New(logger)
	}
	return &Index{source: source, sanitizer: san, policy: policy, logger: logger}
}

// Load discards the current snapshot and refits from the catalog.
func (ix *Index) Load(ctx context.Context) error {
	ix.loadMu.Lock()
	defer ix.loadMu.Unlock()

	products, err := ix.source.InStockProducts(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	snap := &snapshot{products: products}
	if len(products) == 0 {
		ix.state.Store(snap)
		ix.stale.Store(false)
		ix.logger.Warn("no products found in catalog")
		return ErrEmptyCatalog
	}

	docs := make([][]string, len(products))
	for i, p := range products {
		docs[i] = ix.stems(p.Name, p.CategoryOrDefault(), p.DescriptionText())
	}

	space, err := fit(docs, ix.policy.MaxDocFrequency)
	if err != nil {
		ix.logger.Warn("vector space fit failed, recommendations will use fallback", zap.Error(err))
	} else {
		snap.space = space
	}

	ix.state.Store(snap)
	ix.stale.Store(false)
	ix.logger.Info("catalog loaded for recommendations",
		zap.Int("products", len(products)),
		zap.Bool("fitted", snap.space != nil),
	)
	return nil
}

// EnsureLoaded loads the catalog if it was never loaded or has been invalidated.
func (ix *Index) EnsureLoaded(ctx context.Context) error {
	if ix.state.Load() != nil && !ix.stale.Load() {
		return nil
	}
	return ix.Load(ctx)
}

// Invalidate marks the snapshot stale. The old snapshot keeps serving until
// the next EnsureLoaded or Load.
func (ix *Index) Invalidate() {
	ix.stale.Store(true)
}

// Products returns the cached catalog.
func (ix *Index) Products() []models.Product {
	snap := ix.state.Load()
	if snap == nil {
		return nil
	}
	return snap.products
}

// Recommend returns up to k products for the cart, best first.
func (ix *Index) Recommend(items []models.CartItem, k int) (out []models.RecommendationCandidate) {
	snap := ix.state.Load()
	if snap == nil || len(snap.products) == 0 || k <= 0 {
		return nil
	}

	inCart := make(map[uuid.UUID]bool, len(items))
	for _, it := range items {
		inCart[it.ProductID] = true
	}

	if snap.space == nil {
		return fallback(snap.products, inCart, k)
	}

	defer func() {
		if r := recover(); r != nil {
			ix.logger.Error("recommendation scoring failed, using fallback", zap.Any("panic", r))
			out = fallback(snap.products, inCart, k)
		}
	}()

	return ix.rank(snap, items, inCart, k)
}

type scored struct {
	idx    int
	score  float64
	source string
}

func (ix *Index) rank(snap *snapshot, items []models.CartItem, inCart map[uuid.UUID]bool, k int) []models.RecommendationCandidate {
	pol := ix.policy
	best := make(map[int]scored)

	for _, item := range items {
		sims := snap.space.similarities(ix.stems(item.Name, item.Category, item.Description))
		cartCat := models.NormalizeCategory(item.Category)

		for _, idx := range topIndices(sims, k*pol.CandidateFactor) {
			product := snap.products[idx]
			if inCart[product.ID] {
				continue
			}

			score := sims[idx]
			prodCat := product.CategoryKey()
			if cartCat != "" && prodCat != "" {
				if cartCat == prodCat {
					score *= pol.SameCategoryBoost
				} else {
					if score <= pol.CrossCategoryThreshold {
						continue
					}
					score *= pol.CrossCategoryPenalty
				}
			}

			if prev, ok := best[idx]; !ok || score > prev.score {
				best[idx] = scored{idx: idx, score: score, source: item.Name}
			}
		}
	}

	ranked := make([]scored, 0, len(best))
	for _, s := range best {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].idx < ranked[j].idx
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	out := make([]models.RecommendationCandidate, 0, k)
	selected := make(map[uuid.UUID]bool, k)
	for _, s := range ranked {
		p := snap.products[s.idx]
		selected[p.ID] = true
		out = append(out, models.RecommendationCandidate{Product: p, Score: s.score, Source: s.source})
	}

	if len(out) < k {
		out = ix.backfill(snap.products, items, inCart, selected, out, k)
	}

	ix.logger.Debug("recommendations ranked",
		zap.Int("cart_items", len(items)),
		zap.Int("candidates", len(best)),
		zap.Int("returned", len(out)),
	)
	return out
}

// backfill tops up out with same-category products at a fixed low score.
func (ix *Index) backfill(products []models.Product, items []models.CartItem, inCart, selected map[uuid.UUID]bool, out []models.RecommendationCandidate, k int) []models.RecommendationCandidate {
	cartCats := make(map[string]bool)
	for _, it := range items {
		if c := models.NormalizeCategory(it.Category); c != "" {
			cartCats[c] = true
		}
	}
	if len(cartCats) == 0 {
		return out
	}

	for _, p := range products {
		if len(out) >= k {
			break
		}
		if inCart[p.ID] || selected[p.ID] {
			continue
		}
		cat := p.CategoryKey()
		if !cartCats[cat] {
			continue
		}
		selected[p.ID] = true
		out = append(out, models.RecommendationCandidate{
			Product: p,
			Score:   ix.policy.BackfillScore,
			Source:  "same category (" + cat + ")",
		})
	}
	return out
}

// fallback returns the first k catalog products not in the cart with a zero score.
func fallback(products []models.Product, inCart map[uuid.UUID]bool, k int) []models.RecommendationCandidate {
	out := make([]models.RecommendationCandidate, 0, k)
	for _, p := range products {
		if len(out) >= k {
			break
		}
		if inCart[p.ID] {
			continue
		}
		out = append(out, models.RecommendationCandidate{Product: p})
	}
	return out
}

// stems builds the weighted document text and runs it through the catalog pipeline.
func (ix *Index) stems(name, category, description string) []string {
	var b strings.Builder
	for i := 0; i < ix.policy.NameRepeat; i++ {
		b.WriteString(name)
		b.WriteByte(' ')
	}
	for i := 0; i < ix.policy.CategoryRepeat; i++ {
		b.WriteString(category)
		b.WriteByte(' ')
	}
	b.WriteString(description)

	return sanitizer.Stems(ix.sanitizer.Sanitize(b.String(), sanitizer.ModeCatalog))
}

// topIndices returns the indices of the n highest values, ties by position.
func topIndices(vals []float64, n int) []int {
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return vals[idx[a]] > vals[idx[b]] })
	if n < len(idx) {
		idx = idx[:n]
	}
	return idx
}
