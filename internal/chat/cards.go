package chat

import (
	"fmt"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
)

// DefaultCardLimit is the number of cards attached to a search reply.
const DefaultCardLimit = 5

const placeholderImage = "/FoodDiscovery.jpg"

// Card is a product recommendation shown in the chat.
type Card struct {
	CanonicalProductID string      `json:"canonicalProductId"`
	Preview            CardPreview `json:"preview"`
	Reason             string      `json:"reason"`
	Meta               CardMeta    `json:"meta"`
}

// CardPreview is the summary rendered on a card.
type CardPreview struct {
	Title         string   `json:"title"`
	Image         string   `json:"image"`
	Rating        *float64 `json:"rating,omitempty"`
	MinPrice      float64  `json:"minPrice"`
	BestProvider  string   `json:"bestProvider"`
	ETA           string   `json:"eta"`
	OriginSummary []string `json:"originSummary"`
	Slug          string   `json:"slug,omitempty"`
	Details       string   `json:"details,omitempty"`
}

// CardMeta records how a card was produced.
type CardMeta struct {
	GeneratedBy string  `json:"generatedBy"`
	Confidence  float64 `json:"confidence"`
}

// CardsFromProducts wraps the first limit products as cards, keeping order.
func CardsFromProducts(products []catalog.Product, limit int) []Card {
	if limit <= 0 {
		limit = DefaultCardLimit
	}
	if len(products) > limit {
		products = products[:limit]
	}

	cards := make([]Card, 0, len(products))
	for _, p := range products {
		best := bestSource(p)
		cards = append(cards, Card{
			CanonicalProductID: p.CanonicalProductID,
			Preview: CardPreview{
				Title:         p.Title,
				Image:         firstImage(p.Images),
				Rating:        p.Rating,
				MinPrice:      p.MinPrice(),
				BestProvider:  best.Provider,
				ETA:           eta(best.DeliveryEtaMin),
				OriginSummary: origins(p.Sources),
				Slug:          p.Slug,
				Details:       p.Description,
			},
			Reason: searchReason(p),
			Meta:   CardMeta{GeneratedBy: "search-orchestrator", Confidence: 1},
		})
	}
	return cards
}

// bestSource is the cheapest priced source, or the first source when none
// carries a price.
func bestSource(p catalog.Product) catalog.Source {
	if len(p.Sources) == 0 {
		return catalog.Source{Provider: p.Provider()}
	}
	best := p.Sources[0]
	for _, s := range p.Sources[1:] {
		if s.Price > 0 && (best.Price <= 0 || s.Price < best.Price) {
			best = s
		}
	}
	return best
}

func origins(sources []catalog.Source) []string {
	seen := make(map[string]bool, len(sources))
	out := []string{}
	for _, s := range sources {
		if s.Provider == "" || seen[s.Provider] {
			continue
		}
		seen[s.Provider] = true
		out = append(out, s.Provider)
	}
	return out
}

func firstImage(images []string) string {
	if len(images) == 0 {
		return placeholderImage
	}
	return images[0]
}

func eta(minutes *int) string {
	if minutes == nil || *minutes <= 0 {
		return ""
	}
	return fmt.Sprintf("%d min", *minutes)
}

func searchReason(p catalog.Product) string {
	switch {
	case p.Rating != nil && p.NumRatings != nil && *p.NumRatings > 0:
		return fmt.Sprintf("Rated %.1f by %d people nearby.", *p.Rating, *p.NumRatings)
	case p.Rating != nil:
		return fmt.Sprintf("Rated %.1f.", *p.Rating)
	case p.Address != "":
		return "Close to you at " + p.Address + "."
	default:
		return "A match for your search near you."
	}
}
