// Package opengl runs the bitonic kernels as OpenGL 4.3 compute shaders.
//
// The kernels are the same WGSL module the wgpu backend compiles, translated
// to GLSL 430 with naga. A context comes from a hidden 1x1 GLFW window
// created through glgl.
//
// # Threading
//
// An OpenGL context is current on exactly one OS thread. Every GL call made
// by a Device runs on a dedicated goroutine locked to its thread; callers on
// other goroutines hand work to it and wait for the result.
//
// # Barriers
//
// Buffer.Barrier issues glMemoryBarrier(GL_SHADER_STORAGE_BARRIER_BIT), so
// storage writes of one dispatch are visible to the next.
//
// The device requires cgo. Without it Open returns ErrNoCGO.
package opengl
