// Package vectorstore keeps memory embeddings in Qdrant.
package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Point is one vector and its string payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// Hit is one nearest-neighbour match.
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

// NewClient dials the Qdrant gRPC endpoint. The dial is lazy; the first
// call surfaces connection errors.
func NewClient(cfg QdrantConfig) (*Client, error) {
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
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

// EnsureCollection creates a cosine collection of the given width unless
// it already exists.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("get collection %s: %w", name, err)
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: dimension, Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// Upsert writes points in one batch and waits for them to be indexed.
func (c *Client) Upsert(ctx context.Context, collection string, points ...Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*pb.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]*pb.Value, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		structs = append(structs, &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: payload,
		})
	}
	wait := true
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", collection, err)
	}
	return nil
}

// Search returns the topK nearest points to vector.
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
		payload := make(map[string]string, len(r.Payload))
		for k, v := range r.Payload {
			if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
				payload[k] = sv.StringValue
			}
		}
		hits = append(hits, Hit{ID: r.Id.GetUuid(), Score: r.Score, Payload: payload})
	}
	return hits, nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
