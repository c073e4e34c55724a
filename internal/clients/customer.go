package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/utils"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// CustomerClient answers whether a customer exists. The customer service
// itself is an external collaborator; only this boundary is ours.
type CustomerClient interface {
	Exists(ctx context.Context, customerID uuid.UUID) (bool, error)
}

type httpCustomerClient struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewCustomerClient(baseURL string, logger *zap.Logger) CustomerClient {
	settings := gobreaker.Settings{
		Name:        "CustomerService",
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

	return &httpCustomerClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 3 * time.Second},
		cb:         gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}
}

func (c *httpCustomerClient) Exists(ctx context.Context, customerID uuid.UUID) (bool, error) {
	return utils.ExecuteWithBreaker(c.cb, func() (bool, error) {
		url := fmt.Sprintf("%s/customers/%s", c.baseURL, customerID)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, fmt.Errorf("failed to build customer request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return false, fmt.Errorf("customer lookup failed: %w", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			return true, nil
		case http.StatusNotFound:
			return false, nil
		default:
			return false, fmt.Errorf("customer service returned status %d", resp.StatusCode)
		}
	})
}
