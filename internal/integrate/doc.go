// Package integrate drives the membrane relaxation/dynamics loop.
//
// All schemes share one control flow — status (recompute, forces, energy,
// exit checks), periodic save, march — implemented by [Runner]; the update
// rule is a [Stepper] strategy:
//
//   - [VelocityVerlet]: explicit two-stage velocity stepping with the DPD
//     thermostat
//   - [GradientDescent]: steepest descent with optional Armijo backtracking
//   - [ConjugateGradient]: Fletcher-Reeves directions, restarts, and an
//     optional augmented-Lagrangian outer loop for area/volume constraints
//
// Termination states: converged (residual under tolerance), time limit,
// failed (energy growth or non-finite fields), or interrupted via context
// cancellation polled at the top of each iteration.
package integrate
