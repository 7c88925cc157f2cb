package chat

import (
	"context"
	"strings"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/llm"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

const recommendationCount = 3

// CatalogSource lists the first-party product catalog.
type CatalogSource interface {
	Catalog(ctx context.Context) []catalog.Product
	Brand() string
}

// Recommender asks the model to pick catalog products matching a request.
type Recommender struct {
	source CatalogSource
	model  llm.Client
	logger *observability.Logger
}

// NewRecommender creates a recommender. Without a real model it serves
// fixed sample cards.
func NewRecommender(source CatalogSource, model llm.Client, logger *observability.Logger) *Recommender {
	return &Recommender{source: source, model: model, logger: logger.WithComponent("chat.recommender")}
}

type recommendationResponse struct {
	Recommendations []struct {
		ProductID string `json:"productId"`
		Reason    string `json:"reason"`
	} `json:"recommendations"`
}

// Recommend returns up to three cards in the order the model ranked them.
// Failures are logged and yield no cards.
func (r *Recommender) Recommend(ctx context.Context, query string) []Card {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Card{}
	}
	log := r.logger.WithContext(ctx)

	if r.offline() {
		log.Warn().Msg("No language model configured, returning sample recommendations")
		return sampleCards()
	}
	if r.source == nil {
		return []Card{}
	}

	products := r.source.Catalog(ctx)
	if len(products) == 0 {
		log.Warn().Msg("Catalog is empty, cannot recommend")
		return []Card{}
	}

	reply, err := r.model.Complete(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: recommendationPrompt(query, products)},
	})
	if err != nil {
		log.Error().Err(err).Msg("Recommendation request failed")
		return []Card{}
	}

	parsed, err := llm.ParseJSON[recommendationResponse](reply)
	if err != nil {
		log.Error().Err(err).Msg("Recommendation reply not parseable")
		return []Card{}
	}

	byID := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		byID[p.CanonicalProductID] = p
	}

	brand := r.source.Brand()
	cards := []Card{}
	seen := make(map[string]bool)
	for _, rec := range parsed.Recommendations {
		p, ok := byID[rec.ProductID]
		if !ok || seen[rec.ProductID] {
			continue
		}
		seen[rec.ProductID] = true

		reason := strings.TrimSpace(rec.Reason)
		if reason == "" {
			reason = "You might enjoy this!"
		}
		cards = append(cards, Card{
			CanonicalProductID: p.CanonicalProductID,
			Preview: CardPreview{
				Title:         p.Title,
				Image:         firstImage(p.Images),
				Rating:        p.Rating,
				MinPrice:      p.MinPrice(),
				BestProvider:  brand,
				ETA:           "10-20 min",
				OriginSummary: []string{brand},
				Slug:          p.Slug,
				Details:       p.Description,
			},
			Reason: reason,
			Meta:   CardMeta{GeneratedBy: r.model.Model(), Confidence: 0.95},
		})
		if len(cards) == recommendationCount {
			break
		}
	}

	log.Info().Str("query", query).Int("cards", len(cards)).Msg("Recommendations generated")
	return cards
}

func (r *Recommender) offline() bool {
	return r.model == nil || r.model.Offline()
}

func sampleCards() []Card {
	meta := CardMeta{GeneratedBy: "mock-data-generator", Confidence: 1}
	return []Card{
		{
			CanonicalProductID: "mock-product-1",
			Preview: CardPreview{
				Title:         "Spicy Mock-a-roni",
				Image:         "/mock-images/spicy-mock-a-roni.png",
				Rating:        catalog.Float64(4.8),
				MinPrice:      5.99,
				BestProvider:  "MockSnacks",
				ETA:           "5-10 min",
				OriginSummary: []string{"MockSnacks"},
				Slug:          "spicy-mock-a-roni",
				Details:       "A fiery twist on a classic favorite. Not for the faint of heart!",
			},
			Reason: "This is a great choice if you're looking for something with a kick!",
			Meta:   meta,
		},
		{
			CanonicalProductID: "mock-product-2",
			Preview: CardPreview{
				Title:         "Sweet & Salty Mockcorn",
				Image:         "/mock-images/sweet-salty-mockcorn.png",
				Rating:        catalog.Float64(4.6),
				MinPrice:      4.99,
				BestProvider:  "MockSnacks",
				ETA:           "5-10 min",
				OriginSummary: []string{"MockSnacks"},
				Slug:          "sweet-salty-mockcorn",
				Details:       "The perfect balance of sweet and savory. A crowd-pleaser!",
			},
			Reason: "A classic choice that satisfies both sweet and salty cravings.",
			Meta:   meta,
		},
	}
}
