// Package luxcast is a real-time, multi-output video compositor and
// projection-mapping server core.
//
// Each frame, the engine decodes or samples its inputs, composes layers into
// a single environment image, slices that environment into per-screen outputs
// with a geometric and photometric correction chain (crop, perspective, mesh
// warp, edge blend, mask, color correction, frame delay), and hands the
// result to one or more frame sinks.
//
// The root package holds only what every sub-package shares: the logger and
// the error-kind taxonomy. The subsystems live in their own packages:
//
//   - media: frame sources (video files, cameras, still images) with a
//     GPU-native fast path for HAP clips
//   - effects: the per-layer effect registry and runtimes
//   - compositor: layer blending into the environment texture
//   - output: screens, slices, and their GPU runtimes
//   - sink: capture and delivery of finished frames
//   - engine: the render loop, command surface, and preset store
//
// GPU access goes through github.com/gogpu/wgpu's HAL. Rendering runs on a
// single render thread that owns the device and queue; worker goroutines
// (decoders, cameras, network senders) stay off the critical path and hand
// frames over through latest-only slots or bounded rings.
package luxcast
