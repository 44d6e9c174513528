// Command armctl drives a pipeline server from the terminal.
//
// Usage:
//
//	armctl list
//	armctl start yahboom_pick_and_place --config arm.yaml
//	armctl signal yahboom_pick_and_place calibration_confirmed
//	armctl signal yahboom_pick_and_place stop --high
//	armctl watch yahboom_pick_and_place --queue detection_frames
//	armctl stop yahboom_pick_and_place
//
// The server defaults to http://localhost:8000; set ARMCTL_SERVER or
// --server to point elsewhere.
package main
