package pipeline

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/internal/normalize"
	"github.com/omnidoxa/newsdesk/internal/store"
)

// DedupStats reports per-layer duplicate counts for one dedup pass.
type DedupStats struct {
	TotalItems    int `json:"total_items"`
	URLDupes      int `json:"url_dupes"`
	Fingerprint   int `json:"fingerprint_dupes"`
	FuzzyTitle    int `json:"fuzzy_title_dupes"`
	CrossCategory int `json:"cross_category_dupes"`
	Survivors     int `json:"survivors"`
}

// DuplicatesFound totals the duplicates across all four layers.
func (s DedupStats) DuplicatesFound() int {
	return s.URLDupes + s.Fingerprint + s.FuzzyTitle + s.CrossCategory
}

// Deduper reduces a run's staged items to one survivor per story through
// four layers: exact canonical URL, content fingerprint, fuzzy title, and
// cross-category. Rerunning on an already-deduplicated run is a no-op since
// only status=staged items are considered.
type Deduper struct {
	store               store.Store
	jaccardThreshold    float64
	similarityThreshold float64
}

// NewDeduper creates a Deduper. Zero thresholds fall back to 0.75 token
// Jaccard and 0.80 normalized Levenshtein similarity.
func NewDeduper(st store.Store, jaccard, similarity float64) *Deduper {
	if jaccard <= 0 {
		jaccard = 0.75
	}
	if similarity <= 0 {
		similarity = 0.80
	}
	return &Deduper{store: st, jaccardThreshold: jaccard, similarityThreshold: similarity}
}

// Run deduplicates all staged items of the run. Survivors move to
// deduplicated; duplicates move to rejected with a layer-tagged reason.
func (d *Deduper) Run(ctx context.Context, runID string) (*DedupStats, error) {
	items, err := d.store.ListStagedItems(ctx, runID, store.ItemFilter{Status: model.ItemStatusStaged})
	if err != nil {
		return nil, err
	}

	// Deterministic processing order: earliest published first, id as the
	// tie-break. "First occurrence wins" then matches the layer-3 rule.
	sort.Slice(items, func(i, j int) bool {
		if !items[i].PublishedAt.Equal(items[j].PublishedAt) {
			return items[i].PublishedAt.Before(items[j].PublishedAt)
		}
		return items[i].ID < items[j].ID
	})

	stats := &DedupStats{TotalItems: len(items)}
	rejected := make(map[string][]string) // reason -> item ids

	survivors := layerURL(items, rejected, stats)
	survivors = layerFingerprint(survivors, rejected, stats)
	survivors = d.layerFuzzyTitle(survivors, rejected, stats)
	survivors = layerCrossCategory(survivors, rejected, stats)
	stats.Survivors = len(survivors)

	for reason, ids := range rejected {
		if err := d.store.UpdateItemStatus(ctx, ids, model.ItemStatusRejected, reason); err != nil {
			return nil, err
		}
	}
	survivorIDs := make([]string, len(survivors))
	for i, it := range survivors {
		survivorIDs[i] = it.ID
	}
	if err := d.store.UpdateItemStatus(ctx, survivorIDs, model.ItemStatusDeduplicated, ""); err != nil {
		return nil, err
	}

	zap.L().Info("deduplication complete",
		zap.String("run_id", runID),
		zap.Int("total", stats.TotalItems),
		zap.Int("url", stats.URLDupes),
		zap.Int("fingerprint", stats.Fingerprint),
		zap.Int("fuzzy_title", stats.FuzzyTitle),
		zap.Int("cross_category", stats.CrossCategory),
		zap.Int("survivors", stats.Survivors),
	)
	return stats, nil
}

// layerURL keeps the first item per canonical URL within a category.
func layerURL(items []model.StagedItem, rejected map[string][]string, stats *DedupStats) []model.StagedItem {
	type key struct{ category, url string }
	seen := make(map[key]bool, len(items))
	var out []model.StagedItem
	for _, it := range items {
		k := key{it.Category, it.CanonicalURL}
		if seen[k] {
			rejected[model.RejectDuplicateURL] = append(rejected[model.RejectDuplicateURL], it.ID)
			stats.URLDupes++
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}

// layerFingerprint keeps the first item per content fingerprint within a category.
func layerFingerprint(items []model.StagedItem, rejected map[string][]string, stats *DedupStats) []model.StagedItem {
	type key struct{ category, fp string }
	seen := make(map[key]bool, len(items))
	var out []model.StagedItem
	for _, it := range items {
		k := key{it.Category, it.Fingerprint}
		if seen[k] {
			rejected[model.RejectDuplicateFingerprint] = append(rejected[model.RejectDuplicateFingerprint], it.ID)
			stats.Fingerprint++
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}

// layerFuzzyTitle compares remaining titles pairwise within each category.
// The set is small after layers 1-2, which is what keeps the O(n²) pass
// inside the latency budget. Items arrive sorted (published, id) ascending,
// so the kept item of any matching pair is the correct survivor.
func (d *Deduper) layerFuzzyTitle(items []model.StagedItem, rejected map[string][]string, stats *DedupStats) []model.StagedItem {
	var out []model.StagedItem
	kept := make(map[string][]model.StagedItem) // category -> kept items
	for _, it := range items {
		tokens := normalize.TitleTokens(it.Title)
		dup := false
		for _, k := range kept[it.Category] {
			if jaccard(tokens, normalize.TitleTokens(k.Title)) > d.jaccardThreshold ||
				levenshteinSimilarity(it.NormalizedTitle, k.NormalizedTitle) > d.similarityThreshold {
				dup = true
				break
			}
		}
		if dup {
			rejected[model.RejectDuplicateTitle] = append(rejected[model.RejectDuplicateTitle], it.ID)
			stats.FuzzyTitle++
			continue
		}
		kept[it.Category] = append(kept[it.Category], it)
		out = append(out, it)
	}
	return out
}

// layerCrossCategory drops items whose canonical URL or fingerprint already
// appeared under a lexicographically earlier category label.
func layerCrossCategory(items []model.StagedItem, rejected map[string][]string, stats *DedupStats) []model.StagedItem {
	ordered := make([]model.StagedItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Category < ordered[j].Category
	})

	claimed := make(map[string]string, 2*len(ordered)) // url/fingerprint -> category
	dropped := make(map[string]bool)
	for _, it := range ordered {
		urlOwner, urlSeen := claimed[it.CanonicalURL]
		fpOwner, fpSeen := claimed["fp:"+it.Fingerprint]
		if (urlSeen && urlOwner != it.Category) || (fpSeen && fpOwner != it.Category) {
			rejected[model.RejectDuplicateCrossCat] = append(rejected[model.RejectDuplicateCrossCat], it.ID)
			stats.CrossCategory++
			dropped[it.ID] = true
			continue
		}
		claimed[it.CanonicalURL] = it.Category
		claimed["fp:"+it.Fingerprint] = it.Category
	}

	var out []model.StagedItem
	for _, it := range items {
		if !dropped[it.ID] {
			out = append(out, it)
		}
	}
	return out
}

// jaccard computes token-set Jaccard similarity.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// levenshteinSimilarity returns 1 - dist/maxLen over runes.
func levenshteinSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
