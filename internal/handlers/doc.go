// Package handlers groups the processing stages a robot-arm pipeline is
// assembled from.
//
// Each stage lives in its own package and is configured from the
// pipeline's "handlers.<stage>" block:
//
//	dataloader  produces camera frames
//	calibrate   finds the workspace and its perspective transform
//	detect      locates coloured blocks and maps them to arm coordinates
//	arm         sequences pick, place and stack moves on an arm driver
package handlers
