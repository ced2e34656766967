// Command libignition builds the engine as a C shared library:
//
//	go build -buildmode=c-shared -o libignition.so ./cmd/libignition
//
// Every entry point returns 0 on success or a capi.Code; the message of the
// most recent failure is available from ignition_last_error.
package main

/*
#include <stdint.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	const char*    name;
	int32_t        dtype;
	const int64_t* shape;
	int32_t        rank;
	const void*    data;
	size_t         nbytes;
} ignition_tensor;

typedef struct {
	int64_t max_pool_bytes;
	int64_t max_wait_ms;
	int32_t workers;
	int32_t zero_init;
	int32_t close_mode;
	int64_t max_batch;
} ignition_config;
*/
import "C"

import (
	"context"
	"unsafe"

	"github.com/SyedDaiam9101/ignition/internal/capi"
	"github.com/SyedDaiam9101/ignition/internal/errdefs"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

var engines = capi.NewTable()

func main() {}

//export ignition_load
func ignition_load(path *C.char, cfg *C.ignition_config, handle *C.uint64_t) C.int32_t {
	if path == nil || handle == nil {
		return C.int32_t(engines.Fail(capi.InvalidArgument("ignition_load", "path and handle must not be NULL")))
	}
	var c capi.Config
	if cfg != nil {
		c = capi.Config{
			MaxPoolBytes: int64(cfg.max_pool_bytes),
			MaxWaitMs:    int64(cfg.max_wait_ms),
			Workers:      int32(cfg.workers),
			ZeroInit:     cfg.zero_init != 0,
			CloseMode:    int32(cfg.close_mode),
			MaxBatch:     int64(cfg.max_batch),
		}
	}
	h, code := engines.Load(context.Background(), C.GoString(path), c)
	if code == errdefs.CodeOK {
		*handle = C.uint64_t(h)
	}
	return C.int32_t(code)
}

// ignition_predict copies the inputs into Go memory, runs one call and
// returns outputs allocated with malloc; release them with ignition_free_outputs.
//
//export ignition_predict
func ignition_predict(h C.uint64_t, inputs *C.ignition_tensor, n C.size_t, outputs **C.ignition_tensor, nout *C.size_t) C.int32_t {
	if outputs == nil || nout == nil || (inputs == nil && n > 0) {
		return C.int32_t(engines.Fail(capi.InvalidArgument("ignition_predict", "outputs, nout and inputs must not be NULL")))
	}
	*outputs, *nout = nil, 0

	in := make(map[string]*tensor.Tensor, int(n))
	for _, ct := range unsafe.Slice(inputs, int(n)) {
		var shape []int64
		if ct.rank > 0 {
			shape = append(shape, unsafe.Slice((*int64)(unsafe.Pointer(ct.shape)), int(ct.rank))...)
		}
		var data []byte
		if ct.nbytes > 0 {
			data = C.GoBytes(ct.data, C.int(ct.nbytes))
		}
		name := C.GoString(ct.name)
		t, err := capi.NewInput(name, int32(ct.dtype), shape, data)
		if err != nil {
			return C.int32_t(engines.Fail(err))
		}
		in[name] = t
	}

	out, code := engines.Predict(context.Background(), capi.Handle(h), in)
	if code != errdefs.CodeOK {
		return C.int32_t(code)
	}
	*outputs, *nout = exportOutputs(out), C.size_t(len(out))
	return C.int32_t(errdefs.CodeOK)
}

func exportOutputs(out tensor.List) *C.ignition_tensor {
	if len(out) == 0 {
		return nil
	}
	arr := (*C.ignition_tensor)(C.calloc(C.size_t(len(out)), C.size_t(unsafe.Sizeof(C.ignition_tensor{}))))
	dst := unsafe.Slice(arr, len(out))
	for i, named := range out {
		t := named.Tensor
		dst[i].name = C.CString(named.Name)
		dst[i].dtype = C.int32_t(t.DType)
		dst[i].rank = C.int32_t(t.Shape.Rank())
		if rank := t.Shape.Rank(); rank > 0 {
			shape := (*C.int64_t)(C.malloc(C.size_t(rank * 8)))
			for j, d := range t.Shape {
				unsafe.Slice(shape, rank)[j] = C.int64_t(d)
			}
			dst[i].shape = shape
		}
		if len(t.Data) > 0 {
			dst[i].data = C.CBytes(t.Data)
		}
		dst[i].nbytes = C.size_t(len(t.Data))
	}
	return arr
}

//export ignition_free_outputs
func ignition_free_outputs(outputs *C.ignition_tensor, n C.size_t) {
	if outputs == nil {
		return
	}
	for _, t := range unsafe.Slice(outputs, int(n)) {
		C.free(unsafe.Pointer(t.name))
		C.free(unsafe.Pointer(t.shape))
		C.free(t.data)
	}
	C.free(unsafe.Pointer(outputs))
}

//export ignition_close
func ignition_close(h C.uint64_t) C.int32_t {
	return C.int32_t(engines.Close(capi.Handle(h)))
}

// ignition_last_error copies the most recent failure message, NUL terminated
// and truncated to size, into buf and returns the untruncated length.
//
//export ignition_last_error
func ignition_last_error(buf *C.char, size C.size_t) C.size_t {
	msg := engines.LastError()
	if buf != nil && size > 0 {
		n := len(msg)
		if n > int(size)-1 {
			n = int(size) - 1
		}
		dst := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(size))
		copy(dst, msg[:n])
		dst[n] = 0
	}
	return C.size_t(len(msg))
}
