package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/timmy/intelliparse/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const (
	defaultVectorDimension = 512
	scrollPageSize         = 256
)

// profileNamespace derives stable point ids from caller-assigned profile ids.
var profileNamespace = uuid.MustParse("6f1c3a52-0d4e-4c1b-9a57-3c1f4e2b8d10")

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS          bool   // Explicitly enable TLS without API Key
	VectorDimension int
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantWatchlist stores watchlist profiles as points in a cosine collection.
// Every vector in the collection shares one dimension.
type QdrantWatchlist struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
}

// NewQdrantWatchlist connects to Qdrant.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key).
func NewQdrantWatchlist(cfg *QdrantConnectionConfig) (*QdrantWatchlist, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	vectorDimension := cfg.VectorDimension
	if vectorDimension <= 0 {
		vectorDimension = defaultVectorDimension
	}

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantWatchlist{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: vectorDimension,
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantWatchlist) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist and checks the
// vector size of an existing one.
func (r *QdrantWatchlist) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != uint64(r.vectorDimension) {
			return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	_, err = r.pointsClient.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: r.collectionName,
		FieldName:      "type",
		FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to index profile type: %w", err)
	}
	return nil
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	vectors := info.GetConfig().GetParams().GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if size := vectors.GetParams().GetSize(); size > 0 {
		return size, true
	}
	return 0, false
}

func profilePointID(profileID string) *pb.PointId {
	return &pb.PointId{
		PointIdOptions: &pb.PointId_Uuid{
			Uuid: uuid.NewSHA1(profileNamespace, []byte(profileID)).String(),
		},
	}
}

// Upsert writes a profile point. Vectors must match the collection dimension.
func (r *QdrantWatchlist) Upsert(ctx context.Context, profile domain.Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	if len(profile.Vector) != r.vectorDimension {
		return fmt.Errorf("%w: vector has %d dimensions, collection expects %d",
			domain.ErrInvalidProfile, len(profile.Vector), r.vectorDimension)
	}

	wait := true
	_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Wait:           &wait,
		Points: []*pb.PointStruct{
			{
				Id: profilePointID(profile.ID),
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: profile.Vector.Float32()},
					},
				},
				Payload: map[string]*pb.Value{
					"profile_id": {Kind: &pb.Value_StringValue{StringValue: profile.ID}},
					"type":       {Kind: &pb.Value_StringValue{StringValue: string(profile.Type)}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// Delete removes a profile point. Deleting an absent point succeeds.
func (r *QdrantWatchlist) Delete(ctx context.Context, profileID string) error {
	wait := true
	_, err := r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{profilePointID(profileID)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// List scrolls every profile of typ. Points come back in point-id order.
func (r *QdrantWatchlist) List(ctx context.Context, typ domain.ProfileType) ([]domain.Profile, error) {
	limit := uint32(scrollPageSize)
	req := &pb.ScrollPoints{
		CollectionName: r.collectionName,
		Filter: &pb.Filter{
			Must: []*pb.Condition{
				{
					ConditionOneOf: &pb.Condition_Field{
						Field: &pb.FieldCondition{
							Key: "type",
							Match: &pb.Match{
								MatchValue: &pb.Match_Keyword{Keyword: string(typ)},
							},
						},
					},
				},
			},
		},
		Limit: &limit,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
		WithVectors: &pb.WithVectorsSelector{
			SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true},
		},
	}

	var out []domain.Profile
	for {
		resp, err := r.pointsClient.Scroll(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to scroll profiles: %w", err)
		}
		for _, point := range resp.GetResult() {
			data := point.GetVectors().GetVector().GetData()
			vec := make(domain.Vector, len(data))
			for i, x := range data {
				vec[i] = float64(x)
			}
			out = append(out, domain.Profile{
				ID:     point.GetPayload()["profile_id"].GetStringValue(),
				Type:   typ,
				Vector: vec,
			})
		}
		next := resp.GetNextPageOffset()
		if next == nil {
			break
		}
		req.Offset = next
	}
	return out, nil
}
