// Package semantic is the sole owner of the Qdrant vector index. Posts
// go in as L2-normalized embeddings with a flat string payload; search
// comes back as cosine similarity rounded to 4 decimals, descending.
package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hexalog/xarchive/engine/domain"
)

// DefaultCollection is the Qdrant collection posts are indexed into.
const DefaultCollection = "posts"

// previewLimit bounds the content_preview payload field.
const previewLimit = 500

// pointNamespace salts the deterministic point ids so the same post id
// always maps to the same Qdrant point across re-indexing runs.
const pointNamespace = "xarchive:post:"

// PointsAPI is the subset of the Qdrant points service the index uses.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// CollectionsAPI is the subset of the Qdrant collections service the index uses.
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Embedder produces document and query embeddings.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
	GenerateForQuery(ctx context.Context, query string) ([]float32, error)
}

// Index owns all Qdrant operations for the post collection.
type Index struct {
	conn        *grpc.ClientConn
	points      PointsAPI
	collections CollectionsAPI
	collection  string
	embedder    Embedder
}

// New creates an Index connected to Qdrant at the given gRPC address.
func New(addr, collection string, embedder Embedder) (*Index, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return &Index{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		embedder:    embedder,
	}, nil
}

// NewWithClients builds an Index over pre-built service clients. Test seam.
func NewWithClients(points PointsAPI, collections CollectionsAPI, collection string, embedder Embedder) *Index {
	return &Index{
		points:      points,
		collections: collections,
		collection:  collection,
		embedder:    embedder,
	}
}

// Close closes the underlying gRPC connection.
func (ix *Index) Close() error {
	if ix.conn == nil {
		return nil
	}
	return ix.conn.Close()
}

// EnsureCollection creates the post collection if it doesn't exist.
func (ix *Index) EnsureCollection(ctx context.Context) error {
	list, err := ix.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == ix.collection {
			return nil
		}
	}

	_, err = ix.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: ix.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(domain.EmbeddingDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", ix.collection, err)
	}
	return nil
}

// DeleteCollection drops the post collection.
func (ix *Index) DeleteCollection(ctx context.Context) error {
	_, err := ix.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: ix.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", ix.collection, err)
	}
	return nil
}

// Add upserts a post into the index. Re-adding the same post id replaces
// the stored point. A nil embedding is computed from the content; the
// metadata map is flattened to strings so payload filters stay uniform.
func (ix *Index) Add(ctx context.Context, id, content string, metadata map[string]any, embedding []float32) error {
	if id == "" {
		return fmt.Errorf("semantic: add: %w", domain.ErrMissingID)
	}
	if embedding == nil {
		var err error
		embedding, err = ix.embedder.Generate(ctx, content)
		if err != nil {
			return fmt.Errorf("semantic: embed %s: %w", id, err)
		}
	}
	if len(embedding) != domain.EmbeddingDimension {
		return fmt.Errorf("semantic: add %s: %w: got %d dimensions", id, domain.ErrBadEmbedding, len(embedding))
	}

	flat := FlattenMetadata(metadata)
	payload := make(map[string]*pb.Value, len(flat)+3)
	for k, val := range flat {
		payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
	}
	payload["post_id"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: id}}
	payload["content"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: content}}
	payload["content_preview"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: preview(content)}}

	wait := true
	_, err := ix.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: ix.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: embedding},
				},
			},
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %s: %w", id, err)
	}
	return nil
}

// Search embeds the query with the retrieval prefix and returns up to k
// hits, most similar first. Filters match payload fields exactly.
func (ix *Index) Search(ctx context.Context, query string, k int, filters map[string]string) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("semantic: search: empty query")
	}
	vec, err := ix.embedder.GenerateForQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}
	return ix.searchVector(ctx, vec, k, filters, "")
}

// GetSimilar finds up to k posts nearest to an already-indexed post,
// excluding the post itself. An unindexed id yields no results.
func (ix *Index) GetSimilar(ctx context.Context, id string, k int) ([]Result, error) {
	entry, vec, err := ix.get(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	// Over-fetch by one so the post itself can be dropped.
	return ix.searchVector(ctx, vec, k+1, nil, id)
}

// Get returns the stored entry for a post id, or nil when not indexed.
func (ix *Index) Get(ctx context.Context, id string) (*Entry, error) {
	entry, _, err := ix.get(ctx, id, false)
	return entry, err
}

// Delete removes a post from the index. Reports whether a point existed.
func (ix *Index) Delete(ctx context.Context, id string) (bool, error) {
	entry, _, err := ix.get(ctx, id, false)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}

	wait := true
	_, err = ix.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: ix.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}},
				},
			},
		},
	})
	if err != nil {
		return false, fmt.Errorf("semantic: delete %s: %w", id, err)
	}
	return true, nil
}

// Count returns the exact number of indexed posts.
func (ix *Index) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := ix.points.Count(ctx, &pb.CountPoints{
		CollectionName: ix.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func (ix *Index) get(ctx context.Context, id string, withVector bool) (*Entry, []float32, error) {
	req := &pb.GetPoints{
		CollectionName: ix.collection,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if withVector {
		req.WithVectors = &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}}
	}

	resp, err := ix.points.Get(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("semantic: get %s: %w", id, err)
	}
	pts := resp.GetResult()
	if len(pts) == 0 {
		return nil, nil, nil
	}

	pt := pts[0]
	entry := &Entry{ID: id, Metadata: make(map[string]string)}
	for k, val := range pt.GetPayload() {
		s := val.GetStringValue()
		switch k {
		case "content":
			entry.Content = s
		case "post_id":
			entry.ID = s
		default:
			entry.Metadata[k] = s
		}
	}
	var vec []float32
	if withVector {
		vec = pt.GetVectors().GetVector().GetData()
	}
	return entry, vec, nil
}

func (ix *Index) searchVector(ctx context.Context, vec []float32, k int, filters map[string]string, excludeID string) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	req := &pb.SearchPoints{
		CollectionName: ix.collection,
		Vector:         vec,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for key, val := range filters {
			must = append(must, fieldMatch(key, val))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := ix.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]Result, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		r := Result{
			Similarity: roundSimilarity(pt.GetScore()),
			Metadata:   make(map[string]string),
		}
		for key, val := range pt.GetPayload() {
			s := val.GetStringValue()
			switch key {
			case "content":
				r.Content = s
			case "post_id":
				r.ID = s
			default:
				r.Metadata[key] = s
			}
		}
		if excludeID != "" && r.ID == excludeID {
			continue
		}
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if excludeID != "" && len(results) > k-1 {
		results = results[:k-1]
	}
	return results, nil
}

// PointID maps a post id to its deterministic Qdrant point uuid.
func PointID(postID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(pointNamespace+postID)).String()
}

// FlattenMetadata converts arbitrary metadata values to strings. Lists
// become comma-joined strings; nil values are dropped.
func FlattenMetadata(metadata map[string]any) map[string]string {
	flat := make(map[string]string, len(metadata))
	for k, val := range metadata {
		switch tv := val.(type) {
		case nil:
			continue
		case string:
			flat[k] = tv
		case []string:
			flat[k] = strings.Join(tv, ", ")
		case []any:
			parts := make([]string, len(tv))
			for i, item := range tv {
				parts[i] = fmt.Sprint(item)
			}
			flat[k] = strings.Join(parts, ", ")
		case bool:
			if tv {
				flat[k] = "true"
			} else {
				flat[k] = "false"
			}
		default:
			flat[k] = fmt.Sprint(tv)
		}
	}
	return flat
}

func roundSimilarity(score float32) float64 {
	return math.Round(float64(score)*10000) / 10000
}

func preview(content string) string {
	return domain.Truncate(content, previewLimit)
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
