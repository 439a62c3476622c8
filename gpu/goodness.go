package gpu

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
)

const maxWorkgroups = 65535

// GoodnessKernel runs the forward pass of a goodness layer on the GPU: every
// input row is scaled to unit length, multiplied by the weights, shifted by the
// bias and passed through ReLU. It implements nn.Accelerator.
type GoodnessKernel struct {
	// Verify recomputes every result on the host and fails the call when the
	// two disagree by more than Tolerance.
	Verify    bool
	Tolerance float64

	mu        sync.Mutex
	pipelines map[kernelKey]*kernelPipeline
}

type kernelKey struct {
	in, out int
	eps     float32
}

type kernelPipeline struct {
	pipeline        *wgpu.ComputePipeline
	bindGroupLayout *wgpu.BindGroupLayout
}

// NewGoodnessKernel initializes the GPU context and returns an empty kernel.
// Pipelines are compiled lazily per layer shape.
func NewGoodnessKernel() (*GoodnessKernel, error) {
	if err := EnsureGPU(); err != nil {
		return nil, err
	}
	return &GoodnessKernel{
		Tolerance: 1e-3,
		pipelines: make(map[kernelKey]*kernelPipeline),
	}, nil
}

// Name reports the adapter the kernel runs on
func (k *GoodnessKernel) Name() string {
	if name := AdapterName(); name != "" {
		return "webgpu/" + name
	}
	return "webgpu"
}

// GenerateShader returns WGSL for an inSize -> outSize layer. One invocation
// produces one output value.
func GenerateShader(inSize, outSize int, eps float32) string {
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(1) var<storage, read_write> output : array<f32>;
		@group(0) @binding(2) var<storage, read> weights : array<f32>;
		@group(0) @binding(3) var<storage, read> biases : array<f32>;

		@compute @workgroup_size(256)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let idx = gid.x;
			let n_out = %du;
			let n_in = %du;

			if (idx >= arrayLength(&output)) {
				return;
			}

			// idx = sample_idx * n_out + out_idx
			let sample_idx = idx / n_out;
			let out_idx = idx %% n_out;
			let weight_offset = out_idx * n_in;
			let input_offset = sample_idx * n_in;

			var sq: f32 = 0.0;
			var dot: f32 = 0.0;
			for (var i: u32 = 0u; i < n_in; i++) {
				let v = input[input_offset + i];
				sq += v * v;
				dot += weights[weight_offset + i] * v;
			}

			let inv = 1.0 / (sqrt(sq) + %s);
			output[idx] = max(dot * inv + biases[out_idx], 0.0);
		}
	`, outSize, inSize, wgslFloat(eps))
}

// wgslFloat formats v as a WGSL f32 literal
func wgslFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'e', -1, 32)
}

func (k *GoodnessKernel) compile(c *Context, key kernelKey) (*kernelPipeline, error) {
	if p, ok := k.pipelines[key]; ok {
		return p, nil
	}
	label := fmt.Sprintf("FF_%dx%d", key.out, key.in)
	if Debug {
		Log("Compiling goodness kernel %s", label)
	}

	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: GenerateShader(key.in, key.out, key.eps)},
	})
	if err != nil {
		return nil, errors.Wrap(err, "shader compile")
	}
	defer module.Release()

	bgl, err := c.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: label + "_BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}}, // Input
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},         // Output
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}}, // Weights
			{Binding: 3, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}}, // Biases
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create bgl")
	}

	layout, err := c.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + "_Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		bgl.Release()
		return nil, errors.Wrap(err, "create pipeline layout")
	}
	defer layout.Release()

	pipeline, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label + "_Pipe",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		bgl.Release()
		return nil, errors.Wrap(err, "pipeline create")
	}

	p := &kernelPipeline{pipeline: pipeline, bindGroupLayout: bgl}
	k.pipelines[key] = p
	return p, nil
}

// LayerForward computes relu(normalize(x)·Wᵀ + b). weights is row-major
// [outSize x inSize], x is row-major [rows x inSize].
func (k *GoodnessKernel) LayerForward(weights, bias []float32, inSize, outSize int, x []float32, rows int, eps float32) ([]float32, error) {
	if len(weights) != inSize*outSize || len(bias) != outSize || len(x) != rows*inSize {
		return nil, errors.Errorf("goodness kernel: got %d weights, %d biases, %d inputs for %d rows of %d -> %d",
			len(weights), len(bias), len(x), rows, inSize, outSize)
	}
	if rows == 0 {
		return []float32{}, nil
	}
	total := rows * outSize
	workgroups := (total + 255) / 256
	if workgroups > maxWorkgroups {
		return nil, errors.Errorf("goodness kernel: %d workgroups exceed the dispatch limit of %d", workgroups, maxWorkgroups)
	}

	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.pipelines == nil {
		k.pipelines = make(map[kernelKey]*kernelPipeline)
	}

	p, err := k.compile(c, kernelKey{in: inSize, out: outSize, eps: eps})
	if err != nil {
		return nil, err
	}

	storage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	inBuf, err := NewFloatBuffer(c, "FF_In", x, storage)
	if err != nil {
		return nil, err
	}
	defer inBuf.Destroy()
	wBuf, err := NewFloatBuffer(c, "FF_Weights", weights, storage)
	if err != nil {
		return nil, err
	}
	defer wBuf.Destroy()
	bBuf, err := NewFloatBuffer(c, "FF_Biases", bias, storage)
	if err != nil {
		return nil, err
	}
	defer bBuf.Destroy()
	outBuf, err := NewEmptyBuffer(c, "FF_Out", total, storage)
	if err != nil {
		return nil, err
	}
	defer outBuf.Destroy()

	bindGroup, err := c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "FF_Bind",
		Layout: p.bindGroupLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: inBuf, Size: inBuf.GetSize()},
			{Binding: 1, Buffer: outBuf, Size: outBuf.GetSize()},
			{Binding: 2, Buffer: wBuf, Size: wBuf.GetSize()},
			{Binding: 3, Buffer: bBuf, Size: bBuf.GetSize()},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create bind group")
	}
	defer bindGroup.Release()

	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	if Debug {
		Log("Dispatching goodness kernel %dx%d on %d rows w/ %d workgroups", outSize, inSize, rows, workgroups)
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(uint32(workgroups), 1, 1)
	pass.End()

	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, err
	}
	c.Queue.Submit(cmd)

	out, err := ReadBuffer(c, outBuf, total)
	if err != nil {
		return nil, err
	}

	if k.Verify {
		ref := ReferenceForward(weights, bias, inSize, outSize, x, rows, eps)
		if d := MaxAbsDiff(out, ref); d > k.Tolerance {
			return nil, errors.Errorf("goodness kernel: max abs diff %.3g against host exceeds %.3g", d, k.Tolerance)
		}
	}
	return out, nil
}

// Release frees every cached pipeline
func (k *GoodnessKernel) Release() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, p := range k.pipelines {
		p.pipeline.Release()
		p.bindGroupLayout.Release()
		delete(k.pipelines, key)
	}
}
