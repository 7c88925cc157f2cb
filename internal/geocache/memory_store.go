package geocache

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
)

// MemoryStore implements Store in process memory for development and tests.
// It follows the same merge rules as MongoStore.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]catalog.Product
	order []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]catalog.Product)}
}

// Upsert merges each product into the store.
func (s *MemoryStore) Upsert(ctx context.Context, products []catalog.Product) (*BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &BulkResult{}
	now := time.Now().UTC()

	for i, p := range products {
		if p.CanonicalProductID == "" {
			result.addError(i, "", "missing canonicalProductId")
			continue
		}

		existing, ok := s.docs[p.CanonicalProductID]
		if !ok {
			doc := clone(p)
			doc.CreatedAt = &now
			doc.LastIngestedAt = &now
			doc.Images = appendUnique(nil, p.Images...)
			doc.Tags = appendUnique(nil, p.Tags...)
			doc.Comments = appendComments(nil, p.Comments...)
			doc.Sources = mergeSources(nil, p.Sources...)
			s.docs[p.CanonicalProductID] = doc
			s.order = append(s.order, p.CanonicalProductID)
			result.Upserted++
			continue
		}

		result.Matched++
		merged := existing
		merged.Title = p.Title
		merged.Description = p.Description
		setOptional(&merged, p)
		merged.Price = p.Price
		merged.LastFetchedAt = p.LastFetchedAt
		merged.LastIngestedAt = &now
		merged.Images = appendUnique(merged.Images, p.Images...)
		merged.Tags = appendUnique(merged.Tags, p.Tags...)
		merged.Comments = appendComments(merged.Comments, p.Comments...)
		merged.Sources = mergeSources(merged.Sources, p.Sources...)
		s.docs[p.CanonicalProductID] = merged
		result.Modified++
	}

	return result, nil
}

// setOptional copies the fields a provider may leave blank only when p
// carries a value, so a sparse re-ingest keeps enriched data.
func setOptional(dst *catalog.Product, p catalog.Product) {
	if p.Slug != "" {
		dst.Slug = p.Slug
	}
	if p.Address != "" {
		dst.Address = p.Address
	}
	if p.Website != "" {
		dst.Website = p.Website
	}
	if p.Phone != "" {
		dst.Phone = p.Phone
	}
	if p.Location != nil {
		dst.Location = p.Location
	}
	if p.Rating != nil {
		dst.Rating = p.Rating
	}
	if p.NumRatings != nil {
		dst.NumRatings = p.NumRatings
	}
	if p.PopularityScore != nil {
		dst.PopularityScore = p.PopularityScore
	}
}

// QueryNear returns located products within the radius that match text.
func (s *MemoryStore) QueryNear(ctx context.Context, point catalog.GeoPoint, radiusMeters float64, text string, limit int) ([]catalog.Product, error) {
	terms := catalog.Terms(text)
	return s.filter(limit, func(p catalog.Product) bool {
		if p.Location == nil || catalog.DistanceMeters(point, *p.Location) > radiusMeters {
			return false
		}
		return matchesAny(p, terms)
	}), nil
}

// SearchText returns products whose title or description contain any term.
func (s *MemoryStore) SearchText(ctx context.Context, text string, limit int) ([]catalog.Product, error) {
	terms := catalog.Terms(text)
	if len(terms) == 0 {
		return []catalog.Product{}, nil
	}
	return s.filter(limit, func(p catalog.Product) bool {
		return matchesAny(p, terms)
	}), nil
}

// FindByID returns a product by canonical id.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(p)
	return &out, nil
}

// FindBySlugOrID returns a product by canonical id or slug.
func (s *MemoryStore) FindBySlugOrID(ctx context.Context, key string) (*catalog.Product, error) {
	if p, err := s.FindByID(ctx, key); err == nil {
		return p, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if p := s.docs[id]; p.Slug != "" && p.Slug == key {
			out := clone(p)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// DeleteMany removes products by id and returns how many existed.
func (s *MemoryStore) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remove := make(map[string]struct{}, len(ids))
	var n int64
	for _, id := range ids {
		if _, ok := s.docs[id]; ok {
			delete(s.docs, id)
			remove[id] = struct{}{}
			n++
		}
	}
	order := s.order[:0]
	for _, id := range s.order {
		if _, gone := remove[id]; !gone {
			order = append(order, id)
		}
	}
	s.order = order
	return n, nil
}

// ApplyEnrichment merges e into the stored product.
func (s *MemoryStore) ApplyEnrichment(ctx context.Context, id string, e catalog.Enrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}

	p.Images = appendUnique(p.Images, e.Images...)
	p.Comments = appendComments(p.Comments, e.Comments...)
	if e.Source != nil {
		p.Sources = mergeSources(p.Sources, *e.Source)
	}
	if e.Rating != nil {
		p.Rating = e.Rating
	}
	if e.NumRatings != nil {
		p.NumRatings = e.NumRatings
	}
	if e.Website != "" {
		p.Website = e.Website
	}
	if e.Phone != "" {
		p.Phone = e.Phone
	}
	p.LastFetchedAt = time.Now().UTC()
	s.docs[id] = p
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// Len returns the number of stored products.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *MemoryStore) filter(limit int, keep func(catalog.Product) bool) []catalog.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.Product, 0)
	for _, id := range s.order {
		p := s.docs[id]
		if !keep(p) {
			continue
		}
		out = append(out, clone(p))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func matchesAny(p catalog.Product, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	haystack := catalog.Terms(p.Title + " " + p.Description)
	sort.Strings(haystack)
	for _, t := range terms {
		i := sort.SearchStrings(haystack, t)
		if i < len(haystack) && haystack[i] == t {
			return true
		}
	}
	return false
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

// appendComments appends comments whose id is not present yet. Comments
// without an id get their stable id first.
func appendComments(dst []catalog.Comment, comments ...catalog.Comment) []catalog.Comment {
	for _, c := range catalog.NormalizeComments(comments) {
		if !slices.ContainsFunc(dst, func(existing catalog.Comment) bool { return existing.ID == c.ID }) {
			dst = append(dst, c)
		}
	}
	return dst
}

// mergeSources updates entries with the same provider record in place and
// appends the rest.
func mergeSources(dst []catalog.Source, sources ...catalog.Source) []catalog.Source {
	for _, s := range sources {
		replaced := false
		for i := range dst {
			if dst[i].SameAs(s) {
				dst[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			dst = append(dst, s)
		}
	}
	return dst
}

func clone(p catalog.Product) catalog.Product {
	p.Images = append([]string(nil), p.Images...)
	p.Tags = append([]string(nil), p.Tags...)
	p.Sources = append([]catalog.Source(nil), p.Sources...)
	p.Comments = append([]catalog.Comment(nil), p.Comments...)
	if p.Location != nil {
		loc := *p.Location
		loc.Coordinates = append([]float64(nil), loc.Coordinates...)
		p.Location = &loc
	}
	return p
}
