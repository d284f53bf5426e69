// Package qdrant provides the vector store client used for similarity
// search over paper summaries and molecules.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
)

// Collection names. Summaries and molecules live in separate
// collections so chat retrieval can rank them independently.
const (
	CollectionSummaries = "paper_summaries"
	CollectionMolecules = "molecules"
)

// Config holds the configuration for connecting to a Qdrant instance.
type Config struct {
	// Address is the host:port of the Qdrant gRPC endpoint (e.g. "localhost:6334").
	Address string
	// VectorSize is the dimensionality of the embedding vectors.
	VectorSize uint64
}

// Validate checks that all required Config fields are set.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("qdrant config: address is required")
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("qdrant config: vector size must be > 0")
	}
	return nil
}

// Point represents an embedding vector keyed by the database row ID of
// the summary or molecule it belongs to.
type Point struct {
	// ID is the database row ID, used as the Qdrant point ID.
	ID uuid.UUID
	// Vector is the dense embedding.
	Vector []float32
}

// SearchResult represents a single result from a vector similarity search.
type SearchResult struct {
	// ID is the database row ID of the matched point.
	ID uuid.UUID
	// Score is the cosine similarity score (higher is more similar).
	Score float32
}

// VectorStore defines the interface for vector storage and retrieval
// operations across the two collections.
type VectorStore interface {
	// EnsureCollections creates both collections if they do not exist.
	EnsureCollections(ctx context.Context) error
	// Upsert inserts or updates a single embedding in the named collection.
	Upsert(ctx context.Context, collection string, point Point) error
	// Search finds the topK most similar vectors in the named collection.
	Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]SearchResult, error)
	// Close releases the underlying gRPC connection.
	Close() error
}

// Compile-time check that Client implements VectorStore.
var _ VectorStore = (*Client)(nil)

// Client is a Qdrant vector store client that implements VectorStore via gRPC.
type Client struct {
	client     *pb.Client
	vectorSize uint64
}

// NewClient creates a new Qdrant client by dialing the configured gRPC address.
// The connection uses insecure credentials, suitable for internal network deployments.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	host, port, err := parseAddress(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid address %q: %w", cfg.Address, err)
	}

	qdrantClient, err := pb.NewClient(&pb.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &Client{
		client:     qdrantClient,
		vectorSize: cfg.VectorSize,
	}, nil
}

// EnsureCollections checks whether the summary and molecule collections
// exist and creates any missing one with cosine distance.
func (c *Client) EnsureCollections(ctx context.Context) error {
	for _, name := range []string{CollectionSummaries, CollectionMolecules} {
		exists, err := c.client.CollectionExists(ctx, name)
		if err != nil {
			return fmt.Errorf("qdrant: failed to check collection %q: %w", name, err)
		}
		if exists {
			continue
		}

		err = c.client.CreateCollection(ctx, &pb.CreateCollection{
			CollectionName: name,
			VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
				Size:     c.vectorSize,
				Distance: pb.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
		}
	}

	return nil
}

// Upsert inserts or updates a single embedding point. The row UUID is
// used as the Qdrant point ID, enabling idempotent upserts on re-runs.
func (c *Client) Upsert(ctx context.Context, collection string, point Point) error {
	wait := true
	_, err := c.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{
			{
				Id:      pb.NewIDUUID(point.ID.String()),
				Vectors: pb.NewVectors(point.Vector...),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to upsert point %s in %q: %w", point.ID, collection, err)
	}

	return nil
}

// Search performs a nearest-neighbor vector search returning up to topK results
// ordered by cosine similarity (descending).
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]SearchResult, error) {
	scored, err := c.client.Query(ctx, &pb.QueryPoints{
		CollectionName: collection,
		Query:          pb.NewQueryDense(vector),
		Limit:          &topK,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search in %q failed: %w", collection, err)
	}

	results := make([]SearchResult, 0, len(scored))
	for _, sp := range scored {
		if sp.Id == nil {
			continue
		}
		uuidStr := sp.Id.GetUuid()
		if uuidStr == "" {
			continue
		}
		id, err := uuid.Parse(uuidStr)
		if err != nil {
			return nil, fmt.Errorf("qdrant: invalid UUID in search result %q: %w", uuidStr, err)
		}
		results = append(results, SearchResult{
			ID:    id,
			Score: sp.Score,
		})
	}

	return results, nil
}

// Close releases the gRPC connection to Qdrant.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// parseAddress splits an address string of the form "host:port" into its components.
func parseAddress(addr string) (string, int, error) {
	host, portStr, err := splitHostPort(addr)
	if err != nil {
		return "", 0, err
	}

	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, err
	}

	return host, port, nil
}

// splitHostPort splits an address into host and port strings.
// It handles the common case of "host:port" without importing net
// to avoid unnecessary dependencies for a simple split.
func splitHostPort(addr string) (string, string, error) {
	// Find last colon (handles IPv6 addresses in brackets).
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("missing port in address %q", addr)
}

// parsePort converts a port string to an integer.
func parsePort(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty port")
	}
	var port int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid port %q", s)
		}
		port = port*10 + int(c-'0')
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}
