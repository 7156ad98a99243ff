// Package platform answers questions about the host: which OS family it is,
// what it supports and what its processes, disks, network interfaces and GPUs
// look like right now.
//
// A Factory detects the platform and hands out an Adapter bound to it. Every
// Adapter query reads live OS state; nothing is cached between calls. One
// adapter implementation exists per OS family and is selected at build time.
package platform
