package server

// Version of the configuration codec.
// This variable can be overridden at build time using:
//
//	go build -ldflags "-X github.com/examdesk/sebconfig/server.Version=v1.0.0"
var Version = "dev"
