// Package image talks to the particle image-analysis service.
package image

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/chemprep/backend/internal/registry"
	"github.com/chemprep/backend/pkg/circuitbreaker"
	"github.com/chemprep/backend/pkg/logger"
)

// Particle is one analyzed particle: an id plus arbitrary stringly-typed
// measurements ("diameter", "aspectRatio", ...).
type Particle map[string]interface{}

// AverageParticleID marks the aggregate entry the conjoiner consumes.
const AverageParticleID = "Average Particle"

type Client struct {
	basePath string
	http     *registry.Client
	cb       *circuitbreaker.CircuitBreaker
}

func NewClient(basePath string, httpClient *registry.Client) *Client {
	cb := circuitbreaker.New("image-analysis", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	return &Client{
		basePath: basePath,
		http:     httpClient,
		cb:       cb,
	}
}

// Analyze submits an image payload and returns the detected particles.
func (c *Client) Analyze(ctx context.Context, imageData string) ([]Particle, error) {
	endpoint := c.basePath + "analyze"
	form := url.Values{}
	form.Set("image", imageData)

	var particles []Particle
	err := c.cb.Execute(func() error {
		return c.http.PostForm(ctx, endpoint, "", form, &particles)
	})
	if err != nil {
		return nil, fmt.Errorf("image analysis failed: %w", err)
	}

	logger.Debug("Image analyzed", zap.Int("particles", len(particles)))
	return particles, nil
}
