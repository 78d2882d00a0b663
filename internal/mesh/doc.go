// Package mesh provides the triangulated-surface geometry the membrane
// solver runs on: connectivity, vertex positions, and the cached
// differential quantities (areas, normals, curvature ingredients, cotangent
// Laplacian, lumped mass) the force kernels consume.
//
// A [Surface] owns its caches exclusively. After any position change the
// caller must invoke [Surface.Refresh] before reading derived quantities;
// the solver layer wraps this protocol so stale reads cannot happen.
package mesh
