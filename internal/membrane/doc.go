// Package membrane holds the physics of a lipid-bilayer simulation on a
// triangle mesh: Helfrich bending, surface-tension and osmotic constraint
// forces, interfacial line tension, protein binding, localized external
// forcing, and the dissipative-particle-dynamics thermostat.
//
// A [System] binds a current surface to a reference surface that supplies
// the rest-shape targets. Derived fields (curvatures, enclosed volume,
// force caches) follow a strict staleness protocol: they are valid only
// between a Recompute and the next position mutation, and every compute
// entry point re-establishes freshness on its own.
//
// Each force kernel is the exact negative gradient of its term in
// [System.ComputeFreeEnergy], so marching along the pressure field is a
// descent step and line searches over the energy are coherent.
package membrane
