package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/domain"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/utils"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Product is the slice of catalog data the order core needs: the base price
// feeds pricing, the sku travels on the event for traceability.
type Product struct {
	ID        uuid.UUID `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	BasePrice int64     `json:"base_price"`
}

type CatalogClient interface {
	Get(ctx context.Context, productID uuid.UUID) (*Product, error)
}

type httpCatalogClient struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewCatalogClient(baseURL string, logger *zap.Logger) CatalogClient {
	settings := gobreaker.Settings{
		Name:        "CatalogService",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(
				"Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &httpCatalogClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 3 * time.Second},
		cb:         gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}
}

func (c *httpCatalogClient) Get(ctx context.Context, productID uuid.UUID) (*Product, error) {
	return utils.ExecuteWithBreaker(c.cb, func() (*Product, error) {
		url := fmt.Sprintf("%s/products/%s", c.baseURL, productID)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build catalog request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("catalog lookup failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, &domain.NotFoundError{Resource: "product", ID: productID}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("catalog service returned status %d", resp.StatusCode)
		}

		var product Product
		if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
			return nil, fmt.Errorf("failed to decode product: %w", err)
		}

		return &product, nil
	})
}
