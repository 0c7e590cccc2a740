// Package track owns the ball state estimation core: the per-camera
// ground filter with robot contact handling, the live/lagged estimator
// pair that corroborates deviations, and the manager that arbitrates
// between cameras.
//
// Responsibilities: detection gating, Kalman estimation with rolling
// friction, contact detection with dribble offset tracking, deterministic
// multi-camera arbitration, and world-state publication.
// Key types: GroundCollisionFilter, Manager, VisionFrame.
//
// Dependency rule: track may depend on vision and world, never on db or
// monitor. No SQL/database code is allowed in this package.
package track
