// Package cloudlog takes care of setting up a Google Cloud logger and mirrors every line to the
// standard logger so local runs and tests still see output.
package cloudlog

import (
	"context"
	"log"
	"sync"

	logging "cloud.google.com/go/logging"
)

// DefaultLogName is used when Init is given an empty log name.
const DefaultLogName = "carpool_info"

var (
	// Logger is an already set up instance of *log.Logger, nil until Init succeeds.
	Logger *log.Logger

	mu      sync.RWMutex
	client  *logging.Client
	working bool
)

// Init connects to Cloud Logging for the given project. A failure leaves the package logging
// to stderr only, which is what tests and the in-memory backend rely on.
func Init(ctx context.Context, projectID, logName string) error {
	if logName == "" {
		logName = DefaultLogName
	}
	c, err := logging.NewClient(ctx, projectID)
	if err != nil {
		log.Printf("Failed to create logging client: %v", err)
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	client = c
	Logger = c.Logger(logName).StandardLogger(logging.Info)
	working = true
	return nil
}

// Close flushes buffered entries and detaches from Cloud Logging.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if client == nil {
		return nil
	}
	err := client.Close()
	client = nil
	Logger = nil
	working = false
	return err
}

func cloud() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if !working {
		return nil
	}
	return Logger
}

// Print is a proxy for Logger.Print
func Print(v ...interface{}) {
	log.Print(v...)
	if l := cloud(); l != nil {
		l.Print(v...)
	}
}

// Println is a proxy for Logger.Println
func Println(v ...interface{}) {
	log.Println(v...)
	if l := cloud(); l != nil {
		l.Println(v...)
	}
}

// Printf is a proxy for Logger.Printf
func Printf(format string, v ...interface{}) {
	log.Printf(format, v...)
	if l := cloud(); l != nil {
		l.Printf(format, v...)
	}
}

// Fatal is a proxy for Logger.Fatal
func Fatal(v ...interface{}) {
	if l := cloud(); l != nil {
		l.Print(v...)
		Close()
	}
	log.Fatal(v...)
}

// Fatalf is a proxy for Logger.Fatalf
func Fatalf(format string, v ...interface{}) {
	if l := cloud(); l != nil {
		l.Printf(format, v...)
		Close()
	}
	log.Fatalf(format, v...)
}
