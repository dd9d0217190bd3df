// Package scorer defines the pluggable anomaly-scoring collaborator. The
// Correlation Engine calls a Scorer, if configured, to fold an external
// anomaly score into rule evaluation; Sentinel ships only the interface,
// a no-op default, and a thin gRPC client for an out-of-process scorer
// reached over plaintext gRPC.
package scorer

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/sentinel/internal/eventmodel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Scorer assigns an anomaly score in [0, 1] to an event. Implementations
// must be safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, e eventmodel.Event) (float64, error)
}

// Noop is the default Scorer: always reports zero anomaly, i.e. "no
// opinion". Used when no external scoring service is configured.
type Noop struct{}

// Score always returns 0, nil.
func (Noop) Score(context.Context, eventmodel.Event) (float64, error) { return 0, nil }

// GRPCScorer calls an out-of-process anomaly scorer over gRPC. The wire
// contract is a single unary method accepting a feature bag and returning
// a score, represented with google.golang.org/protobuf's structpb.Struct
// rather than a service-specific generated client: structpb.Struct already
// implements proto.Message, so no protoc-generated stubs are required for
// this narrow request/response shape.
type GRPCScorer struct {
	conn       *grpc.ClientConn
	fullMethod string
}

// NewGRPCScorer dials addr (plaintext — the scorer is expected to run as a
// local sidecar) and returns a ready-to-use GRPCScorer. fullMethod is the
// gRPC method path, e.g. "/sentinel.scorer.v1.ScorerService/Score".
func NewGRPCScorer(addr, fullMethod string) (*GRPCScorer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial scorer service at %s: %w", addr, err)
	}
	return &GRPCScorer{conn: conn, fullMethod: fullMethod}, nil
}

// Score sends e's feature bag to the external scorer and returns its
// reported anomaly score.
func (g *GRPCScorer) Score(ctx context.Context, e eventmodel.Event) (float64, error) {
	req, err := structpb.NewStruct(featuresOf(e))
	if err != nil {
		return 0, fmt.Errorf("build scorer request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, g.fullMethod, req, resp); err != nil {
		return 0, fmt.Errorf("scorer RPC failed: %w", err)
	}

	scoreVal, ok := resp.Fields["score"]
	if !ok {
		return 0, fmt.Errorf("scorer response missing %q field", "score")
	}
	return scoreVal.GetNumberValue(), nil
}

// Close releases the underlying connection.
func (g *GRPCScorer) Close() error { return g.conn.Close() }

// featuresOf flattens the fields of e that are plausible anomaly-scoring
// signals into a plain map for structpb encoding.
func featuresOf(e eventmodel.Event) map[string]any {
	m := map[string]any{
		"source":   string(e.Source),
		"category": e.Category,
		"severity": string(e.Severity),
		"hostname": e.Host.Hostname,
	}
	if e.User != nil {
		m["user"] = e.User.Name
	}
	if e.Process != nil {
		m["process"] = e.Process.Name
	}
	for k, v := range e.Fields {
		m["field_"+k] = v
	}
	return m
}
