package geocache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

// MongoStore implements Store on a MongoDB collection.
//
// The client is connected on first use and then shared for the life of the
// store; a failed connection attempt is retried on the next call. Indexes are
// created once per store.
type MongoStore struct {
	cfg    config.MongoConfig
	logger *observability.Logger

	mu     sync.Mutex
	client *mongo.Client
	coll   *mongo.Collection

	indexOnce sync.Once
}

// NewMongoStore creates a store. No connection is made until first use.
func NewMongoStore(cfg config.MongoConfig, logger *observability.Logger) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "food-discovery-orchestrator"
	}
	if cfg.Collection == "" {
		cfg.Collection = "products"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &MongoStore{cfg: cfg, logger: logger.WithComponent("geocache.mongo")}, nil
}

func (s *MongoStore) collection(ctx context.Context) (*mongo.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.coll != nil {
		return s.coll, nil
	}

	var client *mongo.Client
	connect := func() error {
		opts := options.Client().ApplyURI(s.cfg.URI).SetServerSelectionTimeout(s.cfg.Timeout)
		if s.cfg.MaxPool > 0 {
			opts.SetMaxPoolSize(uint64(s.cfg.MaxPool))
		}
		c, err := mongo.Connect(ctx, opts)
		if err != nil {
			return err
		}

		pingCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
		if err := c.Ping(pingCtx, nil); err != nil {
			_ = c.Disconnect(context.Background())
			return err
		}
		client = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)
	if err := backoff.Retry(connect, policy); err != nil {
		s.logger.Error().Err(err).Msg("Failed to connect to MongoDB")
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.client = client
	s.coll = client.Database(s.cfg.Database).Collection(s.cfg.Collection)
	s.logger.Info().Str("database", s.cfg.Database).Str("collection", s.cfg.Collection).Msg("Connected to MongoDB")

	s.indexOnce.Do(func() { s.ensureIndexes(ctx, s.coll) })

	return s.coll, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context, coll *mongo.Collection) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
		{Keys: bson.D{{Key: "title", Value: "text"}, {Key: "description", Value: "text"}}},
		{Keys: bson.D{{Key: "canonicalProductId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetSparse(true)},
	}
	if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
		s.logger.Error().Err(err).Msg("Failed to create geo-cache indexes")
		return
	}
	s.logger.Debug().Int("count", len(models)).Msg("Geo-cache indexes ensured")
}

func (s *MongoStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// Upsert writes one unordered bulk request. Each product contributes a main
// upsert plus an in-place update and a conditional push per source, so the
// result is the same whatever order the server applies them in.
func (s *MongoStore) Upsert(ctx context.Context, products []catalog.Product) (*BulkResult, error) {
	result := &BulkResult{}
	if len(products) == 0 {
		return result, nil
	}

	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var models []mongo.WriteModel
	var owner []int
	for i, p := range products {
		if p.CanonicalProductID == "" {
			result.addError(i, "", "missing canonicalProductId")
			continue
		}
		for _, m := range upsertModels(p, now) {
			models = append(models, m)
			owner = append(owner, i)
		}
	}
	if len(models) == 0 {
		return result, nil
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := coll.BulkWrite(opCtx, models, options.BulkWrite().SetOrdered(false))
	if res != nil {
		result.Matched = res.MatchedCount
		result.Modified = res.ModifiedCount
		result.Upserted = res.UpsertedCount
	}
	if err != nil {
		var bwe mongo.BulkWriteException
		if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		for _, we := range bwe.WriteErrors {
			if we.Index < 0 || we.Index >= len(owner) {
				continue
			}
			idx := owner[we.Index]
			result.addError(idx, products[idx].CanonicalProductID, we.Message)
		}
		s.logger.Warn().Int("failed", result.Failed).Int("total", len(products)).Msg("Geo-cache upsert had item failures")
	}

	return result, nil
}

func upsertModels(p catalog.Product, now time.Time) []mongo.WriteModel {
	set := bson.M{
		"canonicalProductId": p.CanonicalProductID,
		"title":              p.Title,
		"description":        p.Description,
		"price":              p.Price,
		"lastFetchedAt":      p.LastFetchedAt,
		"lastIngestedAt":     now,
	}
	optional := map[string]any{
		"slug":    p.Slug,
		"address": p.Address,
		"website": p.Website,
		"phone":   p.Phone,
	}
	for k, v := range optional {
		if v != "" {
			set[k] = v
		}
	}
	if p.Location != nil {
		set["location"] = p.Location
	}
	if p.Rating != nil {
		set["rating"] = *p.Rating
	}
	if p.NumRatings != nil {
		set["numRatings"] = *p.NumRatings
	}
	if p.PopularityScore != nil {
		set["popularityScore"] = *p.PopularityScore
	}

	sources := p.Sources
	if sources == nil {
		sources = []catalog.Source{}
	}
	comments := catalog.NormalizeComments(p.Comments)
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"createdAt": now, "sources": sources, "comments": comments},
		"$addToSet": bson.M{
			"images": bson.M{"$each": nonNil(p.Images)},
			"tags":   bson.M{"$each": nonNil(p.Tags)},
		},
	}

	models := []mongo.WriteModel{
		mongo.NewUpdateOneModel().
			SetFilter(bson.M{"canonicalProductId": p.CanonicalProductID}).
			SetUpdate(update).
			SetUpsert(true),
	}
	models = append(models, sourceModels(p.CanonicalProductID, sources)...)
	models = append(models, commentModels(p.CanonicalProductID, comments)...)
	return models
}

// commentModels push each comment whose id is not stored yet. Comments are
// keyed by id rather than $addToSet, since createdAt differs between fetches.
func commentModels(id string, comments []catalog.Comment) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(comments))
	for _, c := range comments {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"canonicalProductId": id, "comments.id": bson.M{"$ne": c.ID}}).
			SetUpdate(bson.M{"$push": bson.M{"comments": c}}))
	}
	return models
}

// sourceModels updates a matching source entry in place or appends it.
func sourceModels(id string, sources []catalog.Source) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, 2*len(sources))
	for _, src := range sources {
		match := bson.M{"provider": src.Provider, "providerProductId": src.ProviderProductID}
		models = append(models,
			mongo.NewUpdateOneModel().
				SetFilter(bson.M{"canonicalProductId": id, "sources": bson.M{"$elemMatch": match}}).
				SetUpdate(bson.M{"$set": bson.M{"sources.$": src}}),
			mongo.NewUpdateOneModel().
				SetFilter(bson.M{"canonicalProductId": id, "sources": bson.M{"$not": bson.M{"$elemMatch": match}}}).
				SetUpdate(bson.M{"$push": bson.M{"sources": src}}),
		)
	}
	return models
}

// QueryNear combines $geoWithin with $text; $geoNear cannot be used together
// with a text query, so results are not distance ordered.
func (s *MongoStore) QueryNear(ctx context.Context, point catalog.GeoPoint, radiusMeters float64, text string, limit int) ([]catalog.Product, error) {
	filter := bson.M{
		"location": bson.M{
			"$geoWithin": bson.M{
				"$centerSphere": bson.A{
					bson.A{point.Lon(), point.Lat()},
					radiusMeters / catalog.EarthRadiusMeters,
				},
			},
		},
	}
	if text != "" {
		filter["$text"] = bson.M{"$search": text}
	}
	return s.find(ctx, filter, limit)
}

// SearchText runs a text-index query over all products.
func (s *MongoStore) SearchText(ctx context.Context, text string, limit int) ([]catalog.Product, error) {
	if text == "" {
		return []catalog.Product{}, nil
	}
	return s.find(ctx, bson.M{"$text": bson.M{"$search": text}}, limit)
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, limit int) ([]catalog.Product, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	opts := options.Find().SetProjection(bson.M{"_id": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := coll.Find(opCtx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: find: %v", ErrStoreUnavailable, err)
	}

	products := []catalog.Product{}
	if err := cur.All(opCtx, &products); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrStoreUnavailable, err)
	}
	return products, nil
}

// FindByID returns a product by canonical id.
func (s *MongoStore) FindByID(ctx context.Context, id string) (*catalog.Product, error) {
	return s.findOne(ctx, bson.M{"canonicalProductId": id})
}

// FindBySlugOrID returns a product by canonical id or slug.
func (s *MongoStore) FindBySlugOrID(ctx context.Context, key string) (*catalog.Product, error) {
	return s.findOne(ctx, bson.M{"$or": bson.A{
		bson.M{"canonicalProductId": key},
		bson.M{"slug": key},
	}})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*catalog.Product, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	var p catalog.Product
	err = coll.FindOne(opCtx, filter, options.FindOne().SetProjection(bson.M{"_id": 0})).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find one: %v", ErrStoreUnavailable, err)
	}
	return &p, nil
}

// DeleteMany removes products by canonical id.
func (s *MongoStore) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	coll, err := s.collection(ctx)
	if err != nil {
		return 0, err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := coll.DeleteMany(opCtx, bson.M{"canonicalProductId": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("%w: delete: %v", ErrStoreUnavailable, err)
	}
	return res.DeletedCount, nil
}

// ApplyEnrichment appends images, comments and the enricher's source entry
// and sets only the scalar fields the enrichment carries.
func (s *MongoStore) ApplyEnrichment(ctx context.Context, id string, e catalog.Enrichment) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}

	set := bson.M{"lastFetchedAt": time.Now().UTC()}
	if e.Rating != nil {
		set["rating"] = *e.Rating
	}
	if e.NumRatings != nil {
		set["numRatings"] = *e.NumRatings
	}
	if e.Website != "" {
		set["website"] = e.Website
	}
	if e.Phone != "" {
		set["phone"] = e.Phone
	}

	update := bson.M{"$set": set}
	addToSet := bson.M{}
	if len(e.Images) > 0 {
		addToSet["images"] = bson.M{"$each": e.Images}
	}
	if len(addToSet) > 0 {
		update["$addToSet"] = addToSet
	}

	models := []mongo.WriteModel{
		mongo.NewUpdateOneModel().
			SetFilter(bson.M{"canonicalProductId": id}).
			SetUpdate(update),
	}
	if e.Source != nil {
		models = append(models, sourceModels(id, []catalog.Source{*e.Source})...)
	}
	models = append(models, commentModels(id, catalog.NormalizeComments(e.Comments))...)

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := coll.BulkWrite(opCtx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("%w: apply enrichment: %v", ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	if _, err := s.collection(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	if err := client.Ping(opCtx, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close disconnects the client if it was ever connected.
func (s *MongoStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Disconnect(ctx)
	s.client = nil
	s.coll = nil
	return err
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}


