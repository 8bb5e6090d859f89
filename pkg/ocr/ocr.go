// Package ocr recognizes text in captured images.
//
// An Engine is initialized once from bundled trained-data assets and then
// recognizes images synchronously. Recognition never reports success with
// empty text: a missing image, an engine that is not ready and an image with
// no readable text each have their own error.
package ocr

import (
	"context"
	"errors"
	"image"
	"time"
)

// Sentinel errors for recognition failures.
var (
	ErrNotInitialized = errors.New("ocr: engine not initialized")
	ErrNoImage        = errors.New("ocr: no image captured")
	ErrEmptyImage     = errors.New("ocr: empty image")
	ErrNoText         = errors.New("ocr: no text recognized")
	ErrAssetsMissing  = errors.New("ocr: trained data missing")
	ErrClosed         = errors.New("ocr: engine closed")
)

// Engine is a text recognizer.
type Engine interface {
	// Init prepares the engine. It must be called once before Recognize.
	Init(ctx context.Context) error

	// Ready reports whether Init succeeded and Close has not been called.
	Ready() bool

	// Recognize returns the text in the input image.
	Recognize(ctx context.Context, in Input) (*Result, error)

	// Close releases the engine.
	Close() error
}

// Input is an encoded image to recognize.
type Input struct {
	// ImageID ties the result to the captured image.
	ImageID string
	// Data holds PNG, JPEG or another format the engine can read.
	Data []byte
}

// Word is a recognized word with its bounding box.
type Word struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// Result is the outcome of one recognition.
type Result struct {
	ImageID    string        `json:"image_id"`
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"` // mean word confidence, 0..1
	Words      []Word        `json:"words,omitempty"`
	Languages  []string      `json:"languages"`
	Elapsed    time.Duration `json:"elapsed"`
}

// MeanConfidence averages word confidences. It returns 0 for no words.
func MeanConfidence(words []Word) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words))
}
