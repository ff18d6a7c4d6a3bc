// Package mopac talks to the quantum-chemistry MOPAC calculation service.
package mopac

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

type Client struct {
	basePath string
	http     *registry.Client
	cb       *circuitbreaker.CircuitBreaker
}

func NewClient(basePath string, httpClient *registry.Client) *Client {
	cb := circuitbreaker.New("mopac", circuitbreaker.Config{
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

// Calculate runs a MOPAC computation on a PDB structure and returns the
// computed descriptors keyed by remote feature URI.
func (c *Client) Calculate(ctx context.Context, pdbText, subjectID string) (map[string]interface{}, error) {
	endpoint := c.basePath + "mopac/calculate"
	form := url.Values{}
	form.Set("pdbfile", pdbText)

	var descriptors map[string]interface{}
	err := c.cb.Execute(func() error {
		return c.http.PostForm(ctx, endpoint, subjectID, form, &descriptors)
	})
	if err != nil {
		return nil, fmt.Errorf("mopac calculation failed: %w", err)
	}

	logger.Debug("MOPAC calculation completed", zap.Int("descriptors", len(descriptors)))
	return descriptors, nil
}
