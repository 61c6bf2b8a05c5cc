// internal/curve/doc.go

// Package curve implements the constant-product bonding curve used to price
// agent tokens before graduation: reserve state, fee splits, and pure
// buy/sell quoting over immutable snapshots. Nothing in this package performs
// I/O or takes locks; mutation is owned by the engine package.
package curve
