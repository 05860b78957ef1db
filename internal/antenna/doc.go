// Package antenna simulates the ground-station hardware used while establishing
// contact with the satellite. Every operation is a tasks.Task so the gateway
// orchestrates real drivers and the simulation identically.
package antenna
