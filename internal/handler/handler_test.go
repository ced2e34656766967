// internal/handler/handler_test.go
package handler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/SyedDaiam9101/ignition/internal/cache"
	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/inference"
	"github.com/SyedDaiam9101/ignition/internal/middleware"
	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
	pb "github.com/SyedDaiam9101/ignition/proto/inferencepb"
)

// newMock returns a mock taking input [batch,4] and returning out [batch,3].
func newMock() *inference.MockEngine {
	return &inference.MockEngine{
		Input: plan.TensorSpec{
			Name:  "input",
			DType: tensor.Float32,
			Shape: tensor.Shape{tensor.DynamicDim, 4},
		},
		OutputName: "out",
		Classes:    3,
	}
}

func request(batch int64) *pb.PredictRequest {
	values := make([]float32, batch*4)
	for i := range values {
		values[i] = float32(i)
	}
	t := tensor.FromFloat32(tensor.Shape{batch, 4}, values)
	return &pb.PredictRequest{Inputs: []*pb.Tensor{{
		Name:  "input",
		DType: "float32",
		Shape: []int64{batch, 4},
		Data:  t.Data,
	}}}
}

func expectCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %v error, got nil", want)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("Expected gRPC status error, got: %v", err)
	}
	if st.Code() != want {
		t.Errorf("Expected %v, got: %v (%s)", want, st.Code(), st.Message())
	}
}

func TestPredictWithNilInference(t *testing.T) {
	h := New(nil, nil)
	_, err := h.Predict(context.Background(), request(1))
	expectCode(t, err, codes.FailedPrecondition)

	_, err = h.Metadata(context.Background(), &pb.MetadataRequest{})
	expectCode(t, err, codes.FailedPrecondition)
}

func TestPredictWithEmptyRequest(t *testing.T) {
	h := New(newMock(), nil)

	_, err := h.Predict(context.Background(), nil)
	expectCode(t, err, codes.InvalidArgument)

	_, err = h.Predict(context.Background(), &pb.PredictRequest{})
	expectCode(t, err, codes.InvalidArgument)
}

func TestPredictWithMockInference(t *testing.T) {
	mock := newMock()
	h := New(mock, nil)

	resp, err := h.Predict(context.Background(), request(2))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if len(resp.Outputs) != 1 {
		t.Fatalf("Expected 1 output, got %d", len(resp.Outputs))
	}
	out := resp.Outputs[0]
	if out.Name != "out" || out.DType != "float32" {
		t.Errorf("unexpected output %s %s", out.Name, out.DType)
	}
	if len(out.Shape) != 2 || out.Shape[0] != 2 || out.Shape[1] != 3 {
		t.Errorf("Expected shape [2 3], got %v", out.Shape)
	}
	values := tensor.FromBytes(tensor.Float32, tensor.Shape(out.Shape), out.Data).Float32s()
	for i, v := range values {
		if v != float32(1)/3 {
			t.Errorf("value[%d] = %v, expected 1/3", i, v)
		}
	}
	if resp.Cached {
		t.Error("Expected uncached response")
	}
	if mock.Calls() != 1 {
		t.Errorf("Expected 1 call, got %d", mock.Calls())
	}
}

func TestPredictRejectsMalformedTensors(t *testing.T) {
	cases := []struct {
		name   string
		inputs []*pb.Tensor
	}{
		{"nil tensor", []*pb.Tensor{nil}},
		{"no name", []*pb.Tensor{{DType: "float32", Shape: []int64{1, 4}, Data: make([]byte, 16)}}},
		{"unknown dtype", []*pb.Tensor{{Name: "input", DType: "complex64", Shape: []int64{1, 4}, Data: make([]byte, 16)}}},
		{"negative dim", []*pb.Tensor{{Name: "input", DType: "float32", Shape: []int64{-1, 4}, Data: make([]byte, 16)}}},
		{"duplicate", []*pb.Tensor{
			{Name: "input", DType: "float32", Shape: []int64{1, 4}, Data: make([]byte, 16)},
			{Name: "input", DType: "float32", Shape: []int64{1, 4}, Data: make([]byte, 16)},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock := newMock()
			_, err := New(mock, nil).Predict(context.Background(), &pb.PredictRequest{Inputs: tc.inputs})
			expectCode(t, err, codes.InvalidArgument)
			if mock.Calls() != 0 {
				t.Errorf("engine was called for a malformed request")
			}
		})
	}
}

func TestPredictValidationError(t *testing.T) {
	req := request(1)
	req.Inputs[0].Shape = []int64{1, 5}
	req.Inputs[0].Data = make([]byte, 20)

	_, err := New(newMock(), nil).Predict(context.Background(), req)
	expectCode(t, err, codes.InvalidArgument)
}

func TestPredictWithInferenceError(t *testing.T) {
	mock := newMock()
	mock.SetError("model execution failed")
	h := New(mock, nil)

	_, err := h.Predict(context.Background(), request(1))
	// Unclassified errors are mapped to Internal
	expectCode(t, err, codes.Internal)
}

// failingEngine returns err from every Predict call.
type failingEngine struct {
	*inference.MockEngine
	err error
}

func (f failingEngine) Predict(context.Context, map[string]*tensor.Tensor) (tensor.List, error) {
	return nil, f.err
}

func TestPredictMapsErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{errdefs.Predict("op", "bad input"), codes.InvalidArgument},
		{errdefs.ResourceExhausted("pool", "ceiling"), codes.ResourceExhausted},
		{errdefs.New(errdefs.ErrClosedEngine, "op", "closed"), codes.Unavailable},
		{errdefs.New(errdefs.ErrEngineBusy, "op", "busy"), codes.Unavailable},
		{&errdefs.KernelError{Op: "n1", OpType: "Relu", Cause: errors.New("boom")}, codes.Internal},
		{&errdefs.KernelError{Op: "n1", OpType: "Relu", Cause: context.Canceled}, codes.Canceled},
		{fmt.Errorf("run: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{errdefs.NotFound("plan.Load", "missing"), codes.NotFound},
		{errdefs.Schema("graph", "bad"), codes.FailedPrecondition},
		{errors.New("unknown"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			h := New(failingEngine{newMock(), tc.err}, nil)
			_, err := h.Predict(context.Background(), request(1))
			expectCode(t, err, tc.want)
		})
	}
}

func TestPredictWithRequestID(t *testing.T) {
	h := New(newMock(), nil)

	// Simulate request with request ID in context
	testRequestID := "test-request-id-123"
	md := metadata.Pairs(middleware.RequestIDHeader, testRequestID)
	ctx := metadata.NewIncomingContext(context.Background(), md)

	interceptor := middleware.UnaryRequestIDInterceptor()
	var capturedCtx context.Context
	wrappedHandler := func(ctx context.Context, req interface{}) (interface{}, error) {
		capturedCtx = ctx
		return h.Predict(ctx, req.(*pb.PredictRequest))
	}

	if _, err := interceptor(ctx, request(1), nil, wrappedHandler); err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	if got := middleware.GetRequestID(capturedCtx); got != testRequestID {
		t.Errorf("Expected request ID %s, got %s", testRequestID, got)
	}
}

// memCache is an in-memory ResultCache.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	failGet bool
}

func newMemCache() *memCache { return &memCache{entries: map[string][]byte{}} }

func (c *memCache) Key(checksum uint64, inputs map[string]*tensor.Tensor) string {
	return fmt.Sprintf("%x:%x", checksum, cache.HashInputs(inputs))
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, false, errors.New("connection refused")
	}
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func TestPredictUsesCache(t *testing.T) {
	mock := newMock()
	rc := newMemCache()
	h := New(mock, rc)
	ctx := context.Background()

	first, err := h.Predict(ctx, request(2))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if first.Cached || len(rc.entries) != 1 {
		t.Fatalf("Expected a stored miss, cached=%v entries=%d", first.Cached, len(rc.entries))
	}

	second, err := h.Predict(ctx, request(2))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if !second.Cached {
		t.Error("Expected cached response")
	}
	if mock.Calls() != 1 {
		t.Errorf("Expected engine to run once, ran %d times", mock.Calls())
	}
	if string(second.Outputs[0].Data) != string(first.Outputs[0].Data) {
		t.Error("cached payload differs from computed payload")
	}

	// A different batch is a different key.
	if resp, _ := h.Predict(ctx, request(3)); resp == nil || resp.Cached {
		t.Error("Expected miss for a new input")
	}

	noCache := request(2)
	noCache.NoCache = true
	if resp, _ := h.Predict(ctx, noCache); resp == nil || resp.Cached {
		t.Error("Expected NoCache to bypass the cache")
	}
	if mock.Calls() != 3 {
		t.Errorf("Expected 3 engine calls, got %d", mock.Calls())
	}

	// Cache failures fall back to the engine.
	rc.failGet = true
	if _, err := h.Predict(ctx, request(2)); err != nil {
		t.Fatalf("Predict with failing cache: %v", err)
	}
	if mock.Calls() != 4 {
		t.Errorf("Expected 4 engine calls, got %d", mock.Calls())
	}
}

func TestMetadata(t *testing.T) {
	h := New(newMock(), nil)
	md, err := h.Metadata(context.Background(), &pb.MetadataRequest{})
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if len(md.Inputs) != 1 || md.Inputs[0].Name != "input" || md.Inputs[0].Shape[0] != -1 {
		t.Errorf("unexpected inputs %+v", md.Inputs)
	}
	if len(md.Outputs) != 1 || md.Outputs[0].Name != "out" || md.Outputs[0].DType != "float32" {
		t.Errorf("unexpected outputs %+v", md.Outputs)
	}
	if md.Attributes["engine"] != "mock" {
		t.Errorf("unexpected attributes %v", md.Attributes)
	}
}

func TestServeOverGRPC(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(
		pb.ServerCodec(),
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestIDInterceptor(),
			middleware.UnaryMetricsInterceptor(),
		),
	)
	pb.RegisterInferenceServer(srv, New(newMock(), nil))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go srv.Serve(lis)
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	client := pb.NewInferenceClient(conn)

	var header metadata.MD
	resp, err := client.Predict(ctx, request(4), grpc.Header(&header))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if got := resp.Outputs[0].Shape; len(got) != 2 || got[0] != 4 || got[1] != 3 {
		t.Errorf("Expected shape [4 3], got %v", got)
	}
	if ids := header.Get(middleware.RequestIDHeader); len(ids) != 1 || len(ids[0]) != 36 {
		t.Errorf("Expected a generated request id header, got %v", ids)
	}

	bad := request(1)
	bad.Inputs[0].Name = "other"
	_, err = client.Predict(ctx, bad)
	expectCode(t, err, codes.InvalidArgument)

	md, err := client.Metadata(ctx, &pb.MetadataRequest{})
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if len(md.Outputs) != 1 || md.Outputs[0].Name != "out" {
		t.Errorf("unexpected metadata %+v", md)
	}

	// Generated messages share the server codec.
	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if hc.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %v", hc.Status)
	}
}
