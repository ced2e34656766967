// internal/handler/handler.go
package handler

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"github.com/SyedDaiam9101/ignition/internal/inference"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
	pb "github.com/SyedDaiam9101/ignition/proto/inferencepb"
)

// ResultCache stores encoded PredictResponses. *cache.Cache implements it.
type ResultCache interface {
	Key(checksum uint64, inputs map[string]*tensor.Tensor) string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Handler implements the InferenceServer interface.
// It uses the InferenceEngine interface for flexibility and testability.
type Handler struct {
	pb.UnimplementedInferenceServer
	infer inference.InferenceEngine
	cache ResultCache
}

// New creates a new Handler with the given inference engine and an optional
// result cache (nil disables caching).
func New(infer inference.InferenceEngine, cache ResultCache) *Handler {
	return &Handler{
		infer: infer,
		cache: cache,
	}
}

// Predict runs one call on the engine. Results are served from and written to
// the cache unless the request opts out.
func (h *Handler) Predict(ctx context.Context, req *pb.PredictRequest) (*pb.PredictResponse, error) {
	start := time.Now()

	// Carries the request id when the request passed UnaryRequestIDInterceptor.
	log := klog.FromContext(ctx)

	if req == nil || len(req.Inputs) == 0 {
		return nil, invalidArgumentError("request must carry at least one input")
	}
	if h.infer == nil {
		return nil, failedPreconditionError("inference engine not initialized")
	}

	inputs, err := fromProto(req.Inputs)
	if err != nil {
		return nil, err
	}

	var key string
	if h.cache != nil && !req.NoCache {
		key = h.cache.Key(h.infer.Metadata().Checksum, inputs)
		if resp, ok := h.lookup(ctx, log, key); ok {
			log.V(2).Info("Predict served from cache", "key", key)
			return resp, nil
		}
	}

	outputs, err := h.infer.Predict(ctx, inputs)
	if err != nil {
		log.Error(err, "Predict failed")
		return nil, grpcError(err)
	}

	resp := &pb.PredictResponse{Outputs: toProto(outputs)}
	if key != "" {
		h.store(ctx, log, key, resp)
	}

	log.V(1).Info("Predict",
		"inputs", len(inputs),
		"outputs", len(outputs),
		"duration", time.Since(start))
	return resp, nil
}

// Metadata describes the served plan's inputs and outputs.
func (h *Handler) Metadata(ctx context.Context, req *pb.MetadataRequest) (*pb.MetadataResponse, error) {
	if h.infer == nil {
		return nil, failedPreconditionError("inference engine not initialized")
	}
	md := h.infer.Metadata()
	return &pb.MetadataResponse{
		Inputs:     specsToProto(md.Inputs),
		Outputs:    specsToProto(md.Outputs),
		Checksum:   md.Checksum,
		Attributes: md.Attributes,
	}, nil
}

// lookup treats every cache failure as a miss.
func (h *Handler) lookup(ctx context.Context, log klog.Logger, key string) (*pb.PredictResponse, bool) {
	data, ok, err := h.cache.Get(ctx, key)
	if err != nil {
		log.Error(err, "Cache lookup failed", "key", key)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	resp := new(pb.PredictResponse)
	if err := resp.Unmarshal(data); err != nil {
		log.Error(err, "Discarding undecodable cache entry", "key", key)
		return nil, false
	}
	resp.Cached = true
	return resp, true
}

func (h *Handler) store(ctx context.Context, log klog.Logger, key string, resp *pb.PredictResponse) {
	data, err := resp.Marshal()
	if err == nil {
		err = h.cache.Set(ctx, key, data)
	}
	if err != nil {
		log.Error(err, "Cache store failed", "key", key)
	}
}
