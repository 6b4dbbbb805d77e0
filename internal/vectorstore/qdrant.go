// Package vectorstore wraps the Qdrant gRPC API. It serves as the
// optional persistent mirror of the in-memory retrieval indexes, so a
// restarted process can reload chunk sets without re-embedding.
package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config holds connection settings for a Qdrant instance.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Point is a single stored vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// Hit is a single nearest-neighbor search result.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Client wraps gRPC connections to Qdrant's collections and points services.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(cfg Config) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates the named collection if it does not already
// exist. Cosine distance matches the normalized vectors the retrieval
// layer stores.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// UpsertPoints inserts or updates a batch of points.
func (c *Client) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	pts := make([]*pb.PointStruct, 0, len(points))
	for _, p := range points {
		payloadMap := make(map[string]*pb.Value, len(p.Payload))
		for k, v := range p.Payload {
			payloadMap[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		pts = append(pts, &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: payloadMap,
		})
	}
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points:         pts,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// Search performs a nearest-neighbor search and returns the top-K hits.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]Hit, error) {
	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          topK,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, Hit{
			ID:      r.Id.GetUuid(),
			Score:   r.Score,
			Payload: stringPayload(r.Payload),
		})
	}
	return hits, nil
}

// Scroll pages through all points of a collection with vectors and
// payloads, for reloading an index at startup.
func (c *Client) Scroll(ctx context.Context, collection string, pageSize uint32) ([]Point, error) {
	var (
		out    []Point
		offset *pb.PointId
	)
	withVectors := true
	for {
		resp, err := c.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: collection,
			Limit:          &pageSize,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: withVectors}},
		})
		if err != nil {
			return nil, fmt.Errorf("scroll %s: %w", collection, err)
		}
		for _, r := range resp.Result {
			var vec []float32
			if v := r.Vectors.GetVector(); v != nil {
				vec = v.Data
			}
			out = append(out, Point{
				ID:      r.Id.GetUuid(),
				Vector:  vec,
				Payload: stringPayload(r.Payload),
			})
		}
		if resp.NextPageOffset == nil {
			return out, nil
		}
		offset = resp.NextPageOffset
	}
}

func stringPayload(in map[string]*pb.Value) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
			out[k] = sv.StringValue
		}
	}
	return out
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
