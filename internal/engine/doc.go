// Package engine contains the simulation loop.
//
// Every tick the Ticker appends a TIME_TICK event, systems react to it,
// controllers decide what units do, and the events they append are applied
// to the World in log order. Nothing outside this package mutates the World.
package engine
